// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"
	"strconv"
)

// CredentialType says where a credential lives and how it is checked.
type CredentialType int

const (
	CredentialInvalid CredentialType = iota
	// CredentialKrb5 is a Kerberos ccache file.
	CredentialKrb5
	// CredentialKrk5 is a Kerberos ccache in the kernel keyring.
	CredentialKrk5
	// CredentialKcm is a Kerberos ccache held by the KCM daemon.
	CredentialKcm
	// CredentialX509 is a GSI proxy certificate file.
	CredentialX509
	// CredentialOAuth2 is an OAuth2 token file.
	CredentialOAuth2
	// CredentialZTN is a WLCG bearer token file.
	CredentialZTN
	// CredentialSSS is a shared-secret endorsement.
	CredentialSSS
	// CredentialNobody is the anonymous identity.
	CredentialNobody
)

var credentialTypeNames = map[CredentialType]string{
	CredentialInvalid: "invalid",
	CredentialKrb5:    "krb5",
	CredentialKrk5:    "krk5",
	CredentialKcm:     "kcm",
	CredentialX509:    "x509",
	CredentialOAuth2:  "oauth2",
	CredentialZTN:     "ztn",
	CredentialSSS:     "sss",
	CredentialNobody:  "nobody",
}

func (t CredentialType) String() string {
	if name, ok := credentialTypeNames[t]; ok {
		return name
	}
	return "CredentialType(" + strconv.Itoa(int(t)) + ")"
}

// MarshalText implements encoding.TextMarshaler.
func (t CredentialType) MarshalText() ([]byte, error) {
	if _, ok := credentialTypeNames[t]; !ok {
		return nil, fmt.Errorf("auth: unknown credential type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *CredentialType) UnmarshalText(text []byte) error {
	for candidate, name := range credentialTypeNames {
		if name == string(text) {
			*t = candidate
			return nil
		}
	}
	return fmt.Errorf("auth: unknown credential type %q", text)
}

// UserCredentials is an untrusted credential claim taken from a
// process environment. It is comparable and serves as the credential
// cache key: two processes making the same claim share one identity.
type UserCredentials struct {
	Type   CredentialType `cbor:"type"`
	JailID JailIdentifier `cbor:"jail"`

	// Fname is the file path for KRB5, X509, OAUTH2 and ZTN.
	Fname string `cbor:"fname,omitempty"`
	// Keyring is the full KEYRING: name for KRK5.
	Keyring string `cbor:"keyring,omitempty"`
	// Kcm is the full KCM: name for KCM.
	Kcm string `cbor:"kcm,omitempty"`
	// Endorsement is the SSS endorsement.
	Endorsement string `cbor:"endorsement,omitempty"`

	UID uint32 `cbor:"uid"`
	GID uint32 `cbor:"gid"`

	// SecretKey is EOS_FUSE_SECRET from the same environment.
	SecretKey string `cbor:"-"`
}

// NewKrb5Credentials claims a ccache file.
func NewKrb5Credentials(jail JailIdentifier, path string, uid, gid uint32, key string) UserCredentials {
	return UserCredentials{Type: CredentialKrb5, JailID: jail, Fname: path, UID: uid, GID: gid, SecretKey: key}
}

// NewKeyringCredentials claims a kernel keyring ccache.
func NewKeyringCredentials(jail JailIdentifier, keyring string, uid, gid uint32, key string) UserCredentials {
	return UserCredentials{Type: CredentialKrk5, JailID: jail, Keyring: keyring, UID: uid, GID: gid, SecretKey: key}
}

// NewKcmCredentials claims a KCM ccache.
func NewKcmCredentials(jail JailIdentifier, kcm string, uid, gid uint32, key string) UserCredentials {
	return UserCredentials{Type: CredentialKcm, JailID: jail, Kcm: kcm, UID: uid, GID: gid, SecretKey: key}
}

// NewX509Credentials claims a proxy certificate.
func NewX509Credentials(jail JailIdentifier, path string, uid, gid uint32, key string) UserCredentials {
	return UserCredentials{Type: CredentialX509, JailID: jail, Fname: path, UID: uid, GID: gid, SecretKey: key}
}

// NewOAuth2Credentials claims an OAuth2 token file.
func NewOAuth2Credentials(jail JailIdentifier, path string, uid, gid uint32, key string) UserCredentials {
	return UserCredentials{Type: CredentialOAuth2, JailID: jail, Fname: path, UID: uid, GID: gid, SecretKey: key}
}

// NewZTNCredentials claims a bearer token file.
func NewZTNCredentials(jail JailIdentifier, path string, uid, gid uint32, key string) UserCredentials {
	return UserCredentials{Type: CredentialZTN, JailID: jail, Fname: path, UID: uid, GID: gid, SecretKey: key}
}

// NewSSSCredentials claims an SSS endorsement.
func NewSSSCredentials(endorsement string, uid, gid uint32, key string) UserCredentials {
	return UserCredentials{Type: CredentialSSS, Endorsement: endorsement, UID: uid, GID: gid, SecretKey: key}
}

// NobodyCredentials returns the anonymous claim.
func NobodyCredentials() UserCredentials {
	return UserCredentials{Type: CredentialNobody}
}

// Describe renders the claim for logs and logbooks. SecretKey is never
// included.
func (c UserCredentials) Describe() string {
	switch c.Type {
	case CredentialKrb5, CredentialX509, CredentialOAuth2, CredentialZTN:
		return fmt.Sprintf("%s: %s for uid=%d gid=%d in jail %s", c.Type, c.Fname, c.UID, c.GID, c.JailID)
	case CredentialKrk5:
		return fmt.Sprintf("krk5: %s for uid=%d gid=%d", c.Keyring, c.UID, c.GID)
	case CredentialKcm:
		return fmt.Sprintf("kcm: %s for uid=%d gid=%d", c.Kcm, c.UID, c.GID)
	case CredentialSSS:
		return fmt.Sprintf("sss: endorsement of %d bytes for uid=%d gid=%d", len(c.Endorsement), c.UID, c.GID)
	case CredentialNobody:
		return "nobody"
	default:
		return c.Type.String()
	}
}
