// Package service exposes the node's read path and transaction submission
// over HTTP, plus a server-sent event stream for transaction and block
// notifications.
package service

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/node"
	"github.com/hashborn/computechain/src/types"
)

// Service ...
type Service struct {
	bindAddress string
	node        *node.Node
	mux         *http.ServeMux
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	s := &Service{
		bindAddress: bindAddress,
		node:        n,
		mux:         http.NewServeMux(),
		logger:      logger.WithField("prefix", "service"),
	}

	s.registerHandlers()
	return s
}

func (s *Service) registerHandlers() {
	s.mux.HandleFunc("/status", s.makeHandler(s.GetStatus))
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/block/", s.makeHandler(s.GetBlock))
	s.mux.HandleFunc("/account/", s.makeHandler(s.GetAccount))
	s.mux.HandleFunc("/validators", s.makeHandler(s.GetValidators))
	s.mux.HandleFunc("/validators/leaderboard", s.makeHandler(s.GetLeaderboard))
	s.mux.HandleFunc("/validators/jailed", s.makeHandler(s.GetJailed))
	s.mux.HandleFunc("/validator/", s.makeHandler(s.GetValidator))
	s.mux.HandleFunc("/delegations/", s.makeHandler(s.GetDelegations))
	s.mux.HandleFunc("/unbonding/", s.makeHandler(s.GetUnbonding))
	s.mux.HandleFunc("/rewards/", s.makeHandler(s.GetRewards))
	s.mux.HandleFunc("/mempool", s.makeHandler(s.GetMempool))
	s.mux.HandleFunc("/snapshots", s.makeHandler(s.GetSnapshots))
	s.mux.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	s.mux.HandleFunc("/tx/send", s.makeHandler(s.SubmitTx))
	s.mux.HandleFunc("/events", s.StreamEvents)
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")
		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Info("Serving API")

	if err := http.ListenAndServe(s.bindAddress, s.mux); err != nil {
		s.logger.Error(err)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// GetStatus reports the chain tip and epoch.
func (s *Service) GetStatus(w http.ResponseWriter, r *http.Request) {
	height, hash := s.node.Tip()
	st := s.node.State()

	writeJSON(w, map[string]interface{}{
		"network":      s.node.Genesis().NetworkID,
		"height":       height,
		"tip":          common.EncodeToString(hash),
		"epoch":        st.Epoch(),
		"mempool_size": s.node.Mempool().Size(),
	})
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.GetStats())
}

// GetBlock serves /block/<height|0xhash>.
func (s *Service) GetBlock(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/block/"):]

	var (
		block interface{}
		err   error
	)
	if strings.HasPrefix(param, "0x") || strings.HasPrefix(param, "0X") {
		var hash []byte
		if hash, err = common.DecodeFromString(param); err == nil {
			block, err = s.node.BlockByHash(hash)
		}
	} else {
		var height uint64
		if height, err = strconv.ParseUint(param, 10, 64); err == nil {
			block, err = s.node.BlockByHeight(height)
		}
	}

	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, block)
}

// GetAccount serves /account/<address>: balance and nonce.
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Path[len("/account/"):]
	st := s.node.State()

	acc := st.Account(addr)
	if acc == nil {
		writeJSON(w, map[string]interface{}{
			"address": addr,
			"balance": "0",
			"nonce":   0,
		})
		return
	}

	writeJSON(w, map[string]interface{}{
		"address": acc.Address,
		"balance": acc.Balance.String(),
		"nonce":   acc.Nonce,
	})
}

// validatorView is the JSON projection of a validator.
type validatorView struct {
	Address           string  `json:"address"`
	Operator          string  `json:"operator"`
	Name              string  `json:"name,omitempty"`
	Website           string  `json:"website,omitempty"`
	Description       string  `json:"description,omitempty"`
	SelfStake         string  `json:"self_stake"`
	TotalDelegated    string  `json:"total_delegated"`
	Power             string  `json:"power"`
	CommissionBps     uint32  `json:"commission_bps"`
	BlocksProposed    uint64  `json:"blocks_proposed"`
	BlocksExpected    uint64  `json:"blocks_expected"`
	MissedBlocks      uint64  `json:"missed_blocks"`
	UptimeScore       float64 `json:"uptime_score"`
	PerformanceScore  float64 `json:"performance_score"`
	TotalPenalties    string  `json:"total_penalties"`
	JailCount         uint32  `json:"jail_count"`
	JailedUntilHeight uint64  `json:"jailed_until_height"`
	IsActive          bool    `json:"is_active"`
}

func toValidatorView(v *types.Validator) validatorView {
	return validatorView{
		Address:           v.Address,
		Operator:          v.Operator,
		Name:              v.Name,
		Website:           v.Website,
		Description:       v.Description,
		SelfStake:         v.SelfStake.String(),
		TotalDelegated:    v.TotalDelegated.String(),
		Power:             v.Power.String(),
		CommissionBps:     v.CommissionBps,
		BlocksProposed:    v.BlocksProposed,
		BlocksExpected:    v.BlocksExpected,
		MissedBlocks:      v.MissedBlocks,
		UptimeScore:       float64(v.UptimeMicros) / types.ScoreDenom,
		PerformanceScore:  float64(v.PerformanceMicros) / types.ScoreDenom,
		TotalPenalties:    v.TotalPenalties.String(),
		JailCount:         v.JailCount,
		JailedUntilHeight: v.JailedUntilHeight,
		IsActive:          v.IsActive,
	}
}

// GetValidators ...
func (s *Service) GetValidators(w http.ResponseWriter, r *http.Request) {
	st := s.node.State()
	vals := st.Validators()

	out := make([]validatorView, len(vals))
	for i, v := range vals {
		out[i] = toValidatorView(v)
	}
	writeJSON(w, map[string]interface{}{"epoch": st.Epoch(), "validators": out})
}

// GetLeaderboard serves validators sorted by performance score.
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.Leaderboard())
}

// GetJailed lists currently jailed validators.
func (s *Service) GetJailed(w http.ResponseWriter, r *http.Request) {
	height, _ := s.node.Tip()

	var out []validatorView
	for _, v := range s.node.State().Validators() {
		if v.Jailed(height) {
			out = append(out, toValidatorView(v))
		}
	}
	writeJSON(w, out)
}

// GetValidator serves /validator/<consensus address>.
func (s *Service) GetValidator(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Path[len("/validator/"):]

	v := s.node.State().Validator(addr)
	if v == nil {
		writeError(w, http.StatusNotFound, common.NewError(common.UnknownValidator, "%s", addr))
		return
	}
	writeJSON(w, toValidatorView(v))
}

// GetDelegations serves /delegations/<delegator address>.
func (s *Service) GetDelegations(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Path[len("/delegations/"):]

	type delegationView struct {
		Validator     string `json:"validator"`
		Amount        string `json:"amount"`
		CreatedHeight uint64 `json:"created_height"`
	}

	var out []delegationView
	for _, v := range s.node.State().Validators() {
		if d := v.Delegation(addr); d != nil {
			out = append(out, delegationView{
				Validator:     v.Address,
				Amount:        d.Amount.String(),
				CreatedHeight: d.CreatedHeight,
			})
		}
	}
	writeJSON(w, out)
}

// GetUnbonding serves /unbonding/<delegator address>.
func (s *Service) GetUnbonding(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Path[len("/unbonding/"):]

	acc := s.node.State().Account(addr)
	if acc == nil {
		writeJSON(w, []struct{}{})
		return
	}
	writeJSON(w, acc.Unbonding)
}

// GetRewards serves /rewards/<address>: the reward history.
func (s *Service) GetRewards(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Path[len("/rewards/"):]

	acc := s.node.State().Account(addr)
	if acc == nil {
		writeJSON(w, []struct{}{})
		return
	}
	writeJSON(w, acc.RewardHistory)
}

// GetMempool ...
func (s *Service) GetMempool(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]int{"size": s.node.Mempool().Size()})
}

// GetSnapshots ...
func (s *Service) GetSnapshots(w http.ResponseWriter, r *http.Request) {
	infos, err := s.node.Snapshots().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, infos)
}

// GetPeers ...
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.Peers())
}
