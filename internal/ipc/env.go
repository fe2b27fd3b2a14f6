package ipc

// Launch contract between supervisor and agent. The supervisor sets these
// on the child environment; the agent activates only when both the channel
// fd and the explicit enable flag are present, so merely linking the agent
// package never instruments a process.
const (
	// EnvAgentEnabled must be "1" for the agent to activate.
	EnvAgentEnabled = "NODETAP_AGENT"
	// EnvEvalEnabled must be "1" for ad hoc evaluation to be honored.
	EnvEvalEnabled = "NODETAP_EVAL"
	// EnvChannelFD names the file descriptor of the message channel.
	EnvChannelFD = "NODETAP_IPC_FD"

	// ChannelFD is the descriptor the supervisor hands the channel on:
	// the first ExtraFiles slot after stdin/stdout/stderr.
	ChannelFD = 3
)
