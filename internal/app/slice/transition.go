package slice

import "bytes"

// Origin tells where a candidate value came from.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

// Transition is the classified effect of a candidate value on a slice.
type Transition int

const (
	// LocalNoop: a local mutation produced a value equal to the current one.
	LocalNoop Transition = iota
	// LocalWrite: a changed local value. Persist and schedule a push.
	LocalWrite
	// RemoteEcho: the remote value equals the current one. Ignore.
	RemoteEcho
	// RemoteStaleEcho: the remote value is one of our own earlier pushes,
	// since superseded locally. Ignore so the slice never regresses.
	RemoteStaleEcho
	// RemoteExternalChange: another writer changed the document. Adopt and
	// persist it, cancel any pending push, never push it back.
	RemoteExternalChange
	// RemoteSuperseded: a remote value arrived while the local value has
	// never reached the mirror. Keep the local value and push it again.
	RemoteSuperseded
)

var transitionNames = map[Transition]string{
	LocalNoop:            "local_noop",
	LocalWrite:           "local_write",
	RemoteEcho:           "echo",
	RemoteStaleEcho:      "stale_echo",
	RemoteExternalChange: "external",
	RemoteSuperseded:     "superseded",
}

func (t Transition) String() string {
	if s, ok := transitionNames[t]; ok {
		return s
	}
	return "unknown"
}

// Classify decides the transition for incoming given the current canonical
// encoding and the encodings this process has pushed since the last
// confirmed echo. Equality is byte equality of canonical JSON.
func Classify(origin Origin, current, incoming []byte, ownPushes [][]byte) Transition {
	equal := bytes.Equal(current, incoming)
	if origin == OriginLocal {
		if equal {
			return LocalNoop
		}
		return LocalWrite
	}

	if equal {
		return RemoteEcho
	}
	for _, p := range ownPushes {
		if bytes.Equal(p, incoming) {
			return RemoteStaleEcho
		}
	}
	return RemoteExternalChange
}
