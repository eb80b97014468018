package server

import (
	"crypto/subtle"
	"fmt"

	"github.com/zeusync/crdtsync/internal/core/protocol"
	"github.com/zeusync/crdtsync/internal/core/replica"
	"github.com/zeusync/crdtsync/internal/core/sync"
)

// CredentialAuthenticator admits peers whose join credential is one of
// credentials. Without credentials every peer is admitted and nil is returned.
func CredentialAuthenticator(credentials []string) sync.Authenticator {
	if len(credentials) == 0 {
		return nil
	}
	accepted := make([][]byte, len(credentials))
	for i, c := range credentials {
		accepted[i] = []byte(c)
	}
	return func(peer replica.ID, join protocol.PeerJoin) error {
		given := []byte(join.Credential)
		for _, c := range accepted {
			if subtle.ConstantTimeCompare(given, c) == 1 {
				return nil
			}
		}
		return fmt.Errorf("%w: peer %s", ErrUnauthorized, peer)
	}
}
