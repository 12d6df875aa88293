package app

import "github.com/dkeye/Stage/internal/domain"

// CanSendTo is the per-endpoint recipient permission matrix. A denied
// scope downgrades the message to the next narrower scope where the
// chain allows it (ALL -> CHANNEL -> ROOM), see resolve.go.
type CanSendTo struct {
	All        bool
	OwnChannel bool
	OwnRoom    bool
	AnyChannel bool
	AnyRoom    bool
}

// Policy is everything that differs between the admin and the player
// endpoint. The lifecycle, validation pipeline and router are shared.
type Policy struct {
	Admin bool

	CanSendTo     CanSendTo
	MaxRecipients int

	// Targets is the allow-list of envelope targets accepted from this
	// endpoint. A nil map accepts everything.
	Targets map[string]bool

	// Obfuscate rewrites an envelope before it is relayed to the less
	// trusted partner endpoint. Identity function for players.
	Obfuscate func(domain.Envelope) domain.Envelope
}

func (p Policy) TargetAllowed(target string) bool {
	if p.Targets == nil {
		return true
	}
	return p.Targets[target]
}

// AdminPolicy: admins may address anything, use the full target set,
// and have their identity hidden when a message crosses to players.
func AdminPolicy() Policy {
	return Policy{
		Admin: true,
		CanSendTo: CanSendTo{
			All:        true,
			OwnChannel: true,
			OwnRoom:    true,
			AnyChannel: true,
			AnyRoom:    true,
		},
		MaxRecipients: 100,
		Obfuscate: func(e domain.Envelope) domain.Envelope {
			// Players must never learn which admin spoke.
			return e.WithFrom(domain.ToServer)
		},
	}
}

// PlayerPolicy: players stay inside their own room unless configured
// otherwise and see a reduced target set.
func PlayerPolicy() Policy {
	return Policy{
		Admin: false,
		CanSendTo: CanSendTo{
			All:        false,
			OwnChannel: false,
			OwnRoom:    true,
			AnyChannel: false,
			AnyRoom:    false,
		},
		MaxRecipients: 10,
		Targets: map[string]bool{
			domain.TargetHI:    true,
			domain.TargetTXT:   true,
			domain.TargetData:  true,
			domain.TargetPList: true,
			domain.TargetState: true,
			domain.TargetSetup: true,
		},
		Obfuscate: func(e domain.Envelope) domain.Envelope { return e },
	}
}
