// Copyright 2024 Agent Planner Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package agent describes the agents that take part in a workspace run and
executes prompts on their behalf.

# Overview

An Agent is a declarative descriptor: role, capabilities, model, sampling
options, cache policy, budget and rate limits. Agents are grouped into
workspaces; the declaration order inside a workspace is the final tie-break
when the orchestrator assigns tasks.

# Core Components

Directory: read-only lookup of agents and workspace membership. The
MemoryDirectory implementation can be loaded from YAML or JSON files.

Runner: turns a prompt into a dispatch.Request. Messages are built from the
agent's system prompt, optional retrieved knowledge, optional caller context
and the prompt itself, then handed to the dispatcher.

	runner := agent.NewRunner(dir, dispatcher, logger,
	    agent.WithRetriever(engine, 4000),
	)
	res, err := runner.Execute(ctx, "writer", agent.ExecuteInput{Prompt: "..."})
*/
package agent
