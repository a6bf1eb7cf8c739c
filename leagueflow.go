// Package leagueflow provides a top-level convenience entry point for
// building league agents with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/leagueflow"
//
//	p := leagueflow.NewParticipant("p1", coordinatorURL, caller, logger,
//		leagueflow.WithStrategy(strategy.New("adaptive")))
//
// This is a thin wrapper around the participant, official, and
// coordinator packages; use it when you prefer the shorter import path.
package leagueflow

import (
	"github.com/BaSui01/leagueflow/coordinator"
	"github.com/BaSui01/leagueflow/official"
	"github.com/BaSui01/leagueflow/participant"
	"github.com/BaSui01/leagueflow/resilience"
)

// Version is the leagueflow release version.
const Version = "1.0.0"

// NewParticipant creates a playing agent.
var NewParticipant = participant.New

// WithStrategy sets the participant's choice strategy.
var WithStrategy = participant.WithStrategy

// WithDisplayName sets the name shown in standings.
var WithDisplayName = participant.WithDisplayName

// NewOfficial creates a match-conducting agent.
var NewOfficial = official.New

// NewCoordinator creates the league-running agent.
var NewCoordinator = coordinator.New

// NewCaller creates the resilient JSON-RPC caller every agent dials
// through.
var NewCaller = resilience.NewCaller
