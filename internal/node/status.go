package node

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/drblury/txnode/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/txnode/internal/runtime/logging"
	"github.com/drblury/txnode/internal/runtime/receivers"
	"github.com/drblury/txnode/transport"
)

// Status is the operator view served on /status.
type Status struct {
	Profile     string                           `json:"profile"`
	Units       []string                         `json:"units"`
	Methods     []string                         `json:"methods"`
	Signer      *common.Address                  `json:"signer,omitempty"`
	TxCount     uint64                           `json:"tx_count"`
	StateRoot   common.Hash                      `json:"state_root"`
	StateLeaves int                              `json:"state_leaves"`
	EventSystem string                           `json:"event_system,omitempty"`
	Delivery    *transport.Capabilities          `json:"delivery,omitempty"`
	Receivers   map[string]receivers.PoisonStats `json:"receivers,omitempty"`
	Resources   ResourceUsage                    `json:"resources"`
}

// Status collects a snapshot of the node.
func (n *Node) Status() (Status, error) {
	count, err := n.pool.Count()
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Profile:     string(n.cfg.Profile),
		Units:       n.runner.Units(),
		Methods:     n.dispatcher.Methods(),
		TxCount:     count,
		StateRoot:   n.tree.Root(),
		StateLeaves: n.tree.Len(),
		EventSystem: n.cfg.Events.System,
		Resources:   n.usage.snapshot(),
	}
	if n.signer != nil {
		addr := n.signer.Address()
		st.Signer = &addr
	}
	if n.events != nil {
		delivery := n.delivery
		st.Delivery = &delivery
	}
	if len(n.receivers) > 0 {
		st.Receivers = make(map[string]receivers.PoisonStats, len(n.receivers))
		for _, r := range n.receivers {
			st.Receivers[r.Name()] = r.PoisonStats()
		}
	}
	return st, nil
}

func (n *Node) statusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		st, err := n.Status()
		if err != nil {
			n.logger.Error("Failed to collect status", err, nil)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		body, err := jsoncodec.Marshal(st)
		if err != nil {
			n.logger.Error("Failed to encode status", err, loggingpkg.LogFields{"path": r.URL.Path})
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
}
