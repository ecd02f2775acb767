package executor

import (
	"strconv"

	"github.com/arloliu/reconf/plan"
	"github.com/arloliu/reconf/types"
)

// Header names set on every request.
const (
	HeaderTerm      = "Reconf-Term"
	HeaderRequestID = "Reconf-Request-Id"
)

// DefaultSubjectPrefix is the subject prefix used when none is configured.
const DefaultSubjectPrefix = "reconf.exec"

// Command names, one per remote-executor call.
const (
	CommandPrepare          = "prepare"
	CommandSynchronize      = "synchronize"
	CommandUpdateKeyMapping = "update_key_mapping"
	CommandUpdateKeyState   = "update_key_state"
	CommandDeploy           = "deploy"
	CommandCancel           = "cancel"
	CommandUpdateFunction   = "update_function"
	CommandResume           = "resume"
)

// Commands lists every command a Responder serves.
var Commands = []string{
	CommandPrepare,
	CommandSynchronize,
	CommandUpdateKeyMapping,
	CommandUpdateKeyState,
	CommandDeploy,
	CommandCancel,
	CommandUpdateFunction,
	CommandResume,
}

// Reply codes.
const (
	CodeOK        = "ok"
	CodeFailed    = "failed"
	CodeStaleTerm = "stale_term"
	CodeBadInput  = "bad_request"
)

// Request is the JSON body of an executor request.
type Request struct {
	OperatorID int             `json:"operator_id,omitempty"`
	Offset     int             `json:"offset,omitempty"`
	Tasks      []types.TaskRef `json:"tasks,omitempty"`
	Plan       *plan.Snapshot  `json:"plan,omitempty"`
}

// Reply is the JSON body of an executor reply.
type Reply struct {
	Code  string `json:"code"`
	Error string `json:"error,omitempty"`
}

func subject(prefix, command string) string {
	return prefix + "." + command
}

func formatTerm(term types.Term) string {
	return strconv.FormatUint(uint64(term), 10)
}

func parseTerm(value string) (types.Term, error) {
	v, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, err
	}

	return types.Term(v), nil
}
