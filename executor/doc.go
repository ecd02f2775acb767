// Package executor carries the remote-executor contract over NATS request/reply.
//
// The coordinator side uses Client, which implements coordinator.Executor.
// The task-executor side runs a Responder that decodes requests and hands them
// to a Handler. Every protocol step maps to one subject below a configurable
// prefix:
//
//	<prefix>.prepare             PrepareExecutionPlan
//	<prefix>.synchronize         SynchronizeTasks
//	<prefix>.update_key_mapping  UpdateKeyMapping
//	<prefix>.update_key_state    UpdateKeyState
//	<prefix>.deploy              DeployTasks
//	<prefix>.cancel              CancelTasks
//	<prefix>.update_function     UpdateFunction
//	<prefix>.resume              ResumeTasks
//
// Payloads are JSON. Each request carries the coordinator's leadership term in
// the Reconf-Term header; a Responder rejects terms lower than the highest it
// has seen, so a deposed coordinator cannot drive the cluster.
package executor
