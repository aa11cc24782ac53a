// Package agentloop runs a conversational agent: one Session per
// conversation, driving provider round-trips and tool execution until the
// model answers or the iteration budget runs out.
//
// # Architecture
//
//   - Session: owns the Conversation, enforces MaxIterations and
//     MaxHistory, dispatches tool calls and reports events.
//   - ContextBuilder: persona files, tool protocol, runtime facts, recalled
//     memory and skills, followed by the rendered history.
//   - ToolRegistry: named tools with argument validation; RegisterCoreTools
//     adds file_read, file_write, shell, memory_read and memory_write.
//   - LoopGuard: counts identical (tool, arguments) pairs per user turn and
//     short-circuits calls past the threshold.
//   - EventEmitter: non-blocking event channel for the host.
//
// # Quick Start
//
//	reg := agentloop.NewToolRegistry()
//	env := agentloop.NewLocalExecutionEnvironment(workspace)
//	mem := memory.NewStore(workspace)
//	agentloop.RegisterCoreTools(reg, env, mem, agentloop.DefaultCoreToolOptions())
//
//	builder := agentloop.NewContextBuilder(workspace,
//	    agentloop.WithContextTools(reg),
//	    agentloop.WithContextMemory(mem),
//	    agentloop.WithContextSkills(skills.NewDir(workspace, nil)),
//	)
//	session, err := agentloop.NewSession(client, builder, reg, cfg, agentloop.WithMemory(mem))
//	if err != nil {
//	    return err
//	}
//	defer session.Close()
//
//	reply, err := session.Run(ctx, "Read README.md")
//
// # Failures
//
// Tool failures, malformed tool arguments and loop detections become
// failure results the model sees on the next round. Provider failures end
// the turn with an AgentError of kind ProviderFailure. Running out of
// rounds is not an error: TurnResult.Limit is set and Text holds the last
// assistant text or a fixed notice.
package agentloop
