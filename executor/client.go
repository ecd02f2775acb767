package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/arloliu/reconf/internal/logging"
	"github.com/arloliu/reconf/internal/natsutil"
	"github.com/arloliu/reconf/plan"
	"github.com/arloliu/reconf/types"
)

// ErrRejected is returned when the remote executor replies with a failure.
var ErrRejected = errors.New("executor rejected request")

// DefaultRequestTimeout bounds a request whose context has no deadline.
const DefaultRequestTimeout = 30 * time.Second

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRequestTimeout bounds requests whose context carries no deadline.
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(logger types.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client sends remote-executor calls over NATS request/reply.
//
// A Client is bound to one leadership term. It is safe for concurrent use.
type Client struct {
	conn    *nats.Conn
	prefix  string
	term    types.Term
	timeout time.Duration
	logger  types.Logger
}

// NewClient creates an executor client for term.
//
// Parameters:
//   - conn: NATS connection
//   - prefix: Subject prefix; DefaultSubjectPrefix when empty
//   - term: Leadership term sent with every request
//   - opts: Optional configuration
//
// Returns:
//   - *Client: Client implementing coordinator.Executor
//
// Example:
//
//	factory, _ := coordinator.NewFactory(seed, func(term types.Term) (coordinator.Executor, error) {
//	    return executor.NewClient(nc, "reconf.exec", term), nil
//	})
func NewClient(conn *nats.Conn, prefix string, term types.Term, opts ...ClientOption) *Client {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	c := &Client{
		conn:    conn,
		prefix:  prefix,
		term:    term,
		timeout: DefaultRequestTimeout,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Term returns the term the client fences requests with.
func (c *Client) Term() types.Term {
	return c.term
}

// PrepareExecutionPlan sends the updated plan.
func (c *Client) PrepareExecutionPlan(ctx context.Context, snapshot *plan.Snapshot, operatorID int) error {
	return c.call(ctx, CommandPrepare, Request{OperatorID: operatorID, Offset: types.AllInstances, Plan: snapshot})
}

// SynchronizeTasks pauses the given instances.
func (c *Client) SynchronizeTasks(ctx context.Context, tasks []types.TaskRef) error {
	return c.call(ctx, CommandSynchronize, Request{Tasks: tasks})
}

// UpdateKeyMapping installs new routing on the given upstream instances.
func (c *Client) UpdateKeyMapping(ctx context.Context, tasks []types.TaskRef) error {
	return c.call(ctx, CommandUpdateKeyMapping, Request{Tasks: tasks})
}

// UpdateKeyState migrates keyed state among the given instances.
func (c *Client) UpdateKeyState(ctx context.Context, tasks []types.TaskRef) error {
	return c.call(ctx, CommandUpdateKeyState, Request{Tasks: tasks})
}

// DeployTasks starts an instance.
func (c *Client) DeployTasks(ctx context.Context, operatorID, offset int) error {
	return c.call(ctx, CommandDeploy, Request{OperatorID: operatorID, Offset: offset})
}

// CancelTasks stops an instance.
func (c *Client) CancelTasks(ctx context.Context, operatorID, offset int) error {
	return c.call(ctx, CommandCancel, Request{OperatorID: operatorID, Offset: offset})
}

// UpdateFunction swaps the processing logic of an instance.
func (c *Client) UpdateFunction(ctx context.Context, operatorID, offset int) error {
	return c.call(ctx, CommandUpdateFunction, Request{OperatorID: operatorID, Offset: offset})
}

// ResumeTasks releases every paused instance.
func (c *Client) ResumeTasks(ctx context.Context) error {
	return c.call(ctx, CommandResume, Request{})
}

func (c *Client) call(ctx context.Context, command string, req Request) error {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", command, err)
	}

	requestID := uuid.New().String()
	msg := nats.NewMsg(subject(c.prefix, command))
	msg.Header.Set(HeaderTerm, formatTerm(c.term))
	msg.Header.Set(HeaderRequestID, requestID)
	msg.Data = data

	start := time.Now()
	resp, err := c.conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		if natsutil.IsConnectivityError(err) {
			return fmt.Errorf("%w: %s: %w", types.ErrConnectivity, command, err)
		}

		return fmt.Errorf("%s request: %w", command, err)
	}

	var reply Reply
	if err := json.Unmarshal(resp.Data, &reply); err != nil {
		return fmt.Errorf("decode %s reply: %w", command, err)
	}

	c.logger.Debug("executor call completed",
		"command", command,
		"request_id", requestID,
		"term", c.term,
		"code", reply.Code,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	switch reply.Code {
	case CodeOK:
		return nil
	case CodeStaleTerm:
		return fmt.Errorf("%w: %s: %s", types.ErrStaleTerm, command, reply.Error)
	default:
		return fmt.Errorf("%w: %s: %s", ErrRejected, command, reply.Error)
	}
}
