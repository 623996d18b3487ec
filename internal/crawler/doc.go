// Package crawler defines the core types and collaborator contracts shared by
// the codehub crawler subsystems: tasks, repositories, work units, and the
// store/remote/queue interfaces the orchestrator is built against.
package crawler
