// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package catalog

// ScopeKind is the visibility level of a Context.
type ScopeKind int

const (
	// ScopeGlobal lives as long as the process.
	ScopeGlobal ScopeKind = iota
	// ScopeSession lives as long as one session.
	ScopeSession
	// ScopeReadonly is an ephemeral merge used for lookups.
	ScopeReadonly
)

// Scope identifies which registry a Context is. The zero value is the global
// scope.
type Scope struct {
	kind      ScopeKind
	sessionID string
}

func GlobalScope() Scope { return Scope{kind: ScopeGlobal} }

func SessionScope(sessionID string) Scope {
	return Scope{kind: ScopeSession, sessionID: sessionID}
}

func ReadonlyScope() Scope { return Scope{kind: ScopeReadonly} }

func (s Scope) Kind() ScopeKind { return s.kind }

// SessionID returns the owning session of a session scope, and the empty
// string for the other kinds.
func (s Scope) SessionID() string { return s.sessionID }

func (s Scope) IsReadonly() bool { return s.kind == ScopeReadonly }

func (s Scope) String() string {
	switch s.kind {
	case ScopeSession:
		return "session(" + s.sessionID + ")"
	case ScopeReadonly:
		return "readonly"
	default:
		return "global"
	}
}
