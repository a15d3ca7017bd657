package service

import (
	"io/ioutil"
	"net/http"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/mempool"
	"github.com/hashborn/computechain/src/types"
)

// maxTxBody bounds a submitted transaction's canonical encoding.
const maxTxBody = 1 << 20

// SubmitTx accepts a canonically encoded, signed transaction by POST and
// answers with the admission outcome and the transaction id.
func (s *Service) SubmitTx(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, common.NewError(common.Malformed, "POST required"))
		return
	}

	body, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, maxTxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, common.NewError(common.TooLarge, "%v", err))
		return
	}

	var tx types.Transaction
	if err := types.Decode(body, &tx); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res := s.node.SubmitTransaction(&tx)

	resp := map[string]string{"tx_hash": tx.Hex()}
	switch res.Status {
	case mempool.Rejected:
		resp["status"] = "Rejected"
		resp["reason"] = res.Err.Error()
	case mempool.Replaced:
		resp["status"] = "Accepted"
		resp["replaced"] = res.ReplacedID
	default:
		resp["status"] = "Accepted"
	}

	writeJSON(w, resp)
}
