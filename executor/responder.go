package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/arloliu/reconf/internal/logging"
	"github.com/arloliu/reconf/plan"
	"github.com/arloliu/reconf/types"
)

// Handler executes remote-executor calls on the task-executor side.
//
// The method set matches coordinator.Executor, so any executor implementation
// can serve requests received over NATS.
type Handler interface {
	PrepareExecutionPlan(ctx context.Context, snapshot *plan.Snapshot, operatorID int) error
	SynchronizeTasks(ctx context.Context, tasks []types.TaskRef) error
	UpdateKeyMapping(ctx context.Context, tasks []types.TaskRef) error
	UpdateKeyState(ctx context.Context, tasks []types.TaskRef) error
	DeployTasks(ctx context.Context, operatorID, offset int) error
	CancelTasks(ctx context.Context, operatorID, offset int) error
	UpdateFunction(ctx context.Context, operatorID, offset int) error
	ResumeTasks(ctx context.Context) error
}

// ResponderConfig configures a Responder.
type ResponderConfig struct {
	// SubjectPrefix defaults to DefaultSubjectPrefix.
	SubjectPrefix string

	// Queue optionally joins a queue group so several replicas share requests.
	Queue string

	// HandlerTimeout bounds one handler call. Defaults to DefaultRequestTimeout.
	HandlerTimeout time.Duration

	// MaxRetries and RetryBackoff control subscription attempts per subject.
	MaxRetries   int
	RetryBackoff time.Duration

	Logger types.Logger
}

// Responder serves remote-executor requests from NATS.
//
// Requests are fenced by term: a request whose term is lower than the highest
// term served so far is answered with CodeStaleTerm without reaching the handler.
type Responder struct {
	conn    *nats.Conn
	handler Handler
	cfg     ResponderConfig
	logger  types.Logger

	highestTerm atomic.Uint64

	mu            sync.Mutex
	subscriptions map[string]*nats.Subscription // command -> subscription
}

// NewResponder creates a responder that forwards requests to handler.
//
// Example:
//
//	r := executor.NewResponder(nc, runtime, executor.ResponderConfig{
//	    SubjectPrefix: "reconf.exec",
//	    MaxRetries:    3,
//	    RetryBackoff:  time.Second,
//	})
//	if err := r.Start(ctx); err != nil { ... }
//	defer r.Close()
func NewResponder(conn *nats.Conn, handler Handler, cfg ResponderConfig) *Responder {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	return &Responder{
		conn:          conn,
		handler:       handler,
		cfg:           cfg,
		logger:        cfg.Logger,
		subscriptions: make(map[string]*nats.Subscription),
	}
}

// Start subscribes to every command subject, retrying failed subscriptions.
//
// Returns:
//   - error: Subscription failure after all retries; subjects already
//     subscribed stay active until Close
func (r *Responder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, command := range Commands {
		if _, exists := r.subscriptions[command]; exists {
			continue
		}

		subj := subject(r.cfg.SubjectPrefix, command)
		handler := r.serve(command)

		var sub *nats.Subscription
		var err error

		for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if r.cfg.Queue != "" {
				sub, err = r.conn.QueueSubscribe(subj, r.cfg.Queue, handler)
			} else {
				sub, err = r.conn.Subscribe(subj, handler)
			}
			if err == nil {
				break
			}

			if attempt < r.cfg.MaxRetries {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(r.cfg.RetryBackoff):
				}
			}
		}

		if err != nil {
			return fmt.Errorf("failed to subscribe to %s after %d attempts: %w",
				subj, r.cfg.MaxRetries+1, err)
		}

		r.subscriptions[command] = sub
	}

	// Make sure the server registered the subscriptions before callers send requests.
	if err := r.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush subscriptions: %w", err)
	}

	r.logger.Info("executor responder started", "subject_prefix", r.cfg.SubjectPrefix, "queue", r.cfg.Queue)

	return nil
}

// Close unsubscribes from all command subjects.
func (r *Responder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for command, sub := range r.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("failed to unsubscribe from %s: %w", command, err))
		}
	}
	r.subscriptions = make(map[string]*nats.Subscription)

	return errors.Join(errs...)
}

// HighestTerm returns the highest term served so far.
func (r *Responder) HighestTerm() types.Term {
	return types.Term(r.highestTerm.Load())
}

func (r *Responder) serve(command string) nats.MsgHandler {
	return func(msg *nats.Msg) {
		reply := r.handle(command, msg)

		data, err := json.Marshal(reply)
		if err != nil {
			r.logger.Error("failed to encode executor reply", "command", command, "error", err)
			return
		}
		if err := msg.Respond(data); err != nil {
			r.logger.Warn("failed to send executor reply", "command", command, "error", err)
		}
	}
}

func (r *Responder) handle(command string, msg *nats.Msg) Reply {
	requestID := msg.Header.Get(HeaderRequestID)

	term, err := parseTerm(msg.Header.Get(HeaderTerm))
	if err != nil {
		return Reply{Code: CodeBadInput, Error: fmt.Sprintf("invalid term header: %v", err)}
	}

	if !r.admit(term) {
		r.logger.Warn("rejected request from stale term",
			"command", command,
			"request_id", requestID,
			"term", term,
			"highest_term", r.HighestTerm(),
		)

		return Reply{Code: CodeStaleTerm, Error: fmt.Sprintf("term %d is older than %d", term, r.HighestTerm())}
	}

	var req Request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return Reply{Code: CodeBadInput, Error: err.Error()}
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.HandlerTimeout)
	defer cancel()

	if err := r.dispatch(ctx, command, req); err != nil {
		r.logger.Warn("executor command failed",
			"command", command,
			"request_id", requestID,
			"term", term,
			"error", err,
		)

		return Reply{Code: CodeFailed, Error: err.Error()}
	}

	return Reply{Code: CodeOK}
}

// admit raises the highest term to term and reports whether term is current.
func (r *Responder) admit(term types.Term) bool {
	for {
		highest := r.highestTerm.Load()
		if uint64(term) < highest {
			return false
		}
		if uint64(term) == highest || r.highestTerm.CompareAndSwap(highest, uint64(term)) {
			return true
		}
	}
}

func (r *Responder) dispatch(ctx context.Context, command string, req Request) error {
	switch command {
	case CommandPrepare:
		if req.Plan == nil {
			return errors.New("prepare request without plan")
		}
		return r.handler.PrepareExecutionPlan(ctx, req.Plan, req.OperatorID)
	case CommandSynchronize:
		return r.handler.SynchronizeTasks(ctx, req.Tasks)
	case CommandUpdateKeyMapping:
		return r.handler.UpdateKeyMapping(ctx, req.Tasks)
	case CommandUpdateKeyState:
		return r.handler.UpdateKeyState(ctx, req.Tasks)
	case CommandDeploy:
		return r.handler.DeployTasks(ctx, req.OperatorID, req.Offset)
	case CommandCancel:
		return r.handler.CancelTasks(ctx, req.OperatorID, req.Offset)
	case CommandUpdateFunction:
		return r.handler.UpdateFunction(ctx, req.OperatorID, req.Offset)
	case CommandResume:
		return r.handler.ResumeTasks(ctx)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
