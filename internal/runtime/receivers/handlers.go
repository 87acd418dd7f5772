package receivers

import (
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ethereum/go-ethereum/common/hexutil"

	errspkg "github.com/drblury/txnode/internal/runtime/errors"
	loggingpkg "github.com/drblury/txnode/internal/runtime/logging"
	metadatapkg "github.com/drblury/txnode/internal/runtime/metadata"
	"github.com/drblury/txnode/internal/runtime/txerrors"
	"github.com/drblury/txnode/internal/storage/commitment"
	"github.com/drblury/txnode/internal/tx"
	"github.com/drblury/txnode/internal/txpool"
)

// NewTxReceiver ingests transaction requests published by external systems.
// Valid requests are recorded in pool. Undecodable, invalid and duplicate
// events are logged and acknowledged; storage failures are retried.
func NewTxReceiver(opts Options, pool *txpool.Pool) (*EventReceiver, error) {
	if pool == nil {
		return nil, errspkg.ErrStoreRequired
	}
	if opts.Name == "" {
		opts.Name = "tx_receiver"
	}
	logger := receiverLogger(opts)

	return New(opts, func(msg *message.Message) error {
		fields := eventFields(msg)

		var req tx.TransactionRequest
		if err := Decode(msg, &req); err != nil {
			logger.Error("Discarding undecodable transaction event", err, fields)
			return nil
		}
		if derr := tx.Validate(&req); derr != nil {
			logger.Error("Discarding invalid transaction event", derr, fields)
			return nil
		}

		hash, err := pool.Submit(&req)
		if err != nil {
			if retryable(err) {
				return err
			}
			logger.Info("Ignoring transaction event", withFields(fields, "reason", err.Error()))
			return nil
		}
		logger.Info("Transaction event recorded", withFields(fields, "hash", hash.Hex()))
		return nil
	})
}

// StateUpdate is the payload of a state update event.
type StateUpdate struct {
	Key   hexutil.Bytes `json:"key"`
	Value hexutil.Bytes `json:"value"`
}

// NewStateUpdateReceiver applies {key, value} state updates to tree. An
// empty value removes the key.
func NewStateUpdateReceiver(opts Options, tree *commitment.Tree) (*EventReceiver, error) {
	if tree == nil {
		return nil, errspkg.ErrStoreRequired
	}
	if opts.Name == "" {
		opts.Name = "state_update_receiver"
	}
	logger := receiverLogger(opts)

	return New(opts, func(msg *message.Message) error {
		fields := eventFields(msg)

		var update StateUpdate
		if err := Decode(msg, &update); err != nil {
			logger.Error("Discarding undecodable state update", err, fields)
			return nil
		}
		if len(update.Key) == 0 {
			logger.Error("Discarding state update", txerrors.MissingField{Field: "key"}, fields)
			return nil
		}

		var err error
		if len(update.Value) == 0 {
			_, err = tree.Remove(update.Key)
		} else {
			err = tree.Put(update.Key, update.Value)
		}
		if err != nil {
			logger.Error("Discarding state update", err, fields)
			return nil
		}
		logger.Info("State update applied", withFields(fields, "key", update.Key.String(), "root", tree.Root().Hex()))
		return nil
	})
}

func eventFields(msg *message.Message) loggingpkg.LogFields {
	return loggingpkg.LogFields{
		"message_uuid":   msg.UUID,
		"correlation_id": msg.Metadata.Get(metadatapkg.KeyCorrelationID),
	}
}

func withFields(base loggingpkg.LogFields, kv ...any) loggingpkg.LogFields {
	out := make(loggingpkg.LogFields, len(base)+len(kv)/2)
	for k, v := range base {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			out[key] = kv[i+1]
		}
	}
	return out
}

func receiverLogger(opts Options) loggingpkg.ServiceLogger {
	if opts.Logger == nil {
		return loggingpkg.NewDiscardLogger()
	}
	return opts.Logger.With(loggingpkg.LogFields{"receiver": opts.Name, "topic": opts.Topic})
}

// retryable reports whether a pool failure may succeed on another attempt.
func retryable(err error) bool {
	var clientErr txerrors.ClientError
	if errors.As(err, &clientErr) {
		return true
	}
	var domainErr txerrors.DomainError
	return !errors.As(err, &domainErr)
}
