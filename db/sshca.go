package db

import (
	"context"
	"encoding/json"
)

// GetSSHCA returns the SSH certificate authority with the given ID.
func (d *NoSQL) GetSSHCA(ctx context.Context, id string) (*SSHCertificateAuthority, error) {
	ca := new(SSHCertificateAuthority)
	if err := d.get(ctx, sshCATable, id, ca, "ssh certificate authority"); err != nil {
		return nil, err
	}
	return ca, nil
}

// InsertSSHCA persists a new SSH CA row.
func (d *NoSQL) InsertSSHCA(ctx context.Context, ca *SSHCertificateAuthority) error {
	return d.insert(ctx, sshCATable, ca.ID, ca, "ssh certificate authority")
}

// GetSSHCASecret returns the encrypted private key row of an SSH CA.
func (d *NoSQL) GetSSHCASecret(ctx context.Context, caID string) (*SSHCertificateAuthoritySecret, error) {
	s := new(SSHCertificateAuthoritySecret)
	if err := d.get(ctx, sshCASecretsTable, caID, s, "ssh certificate authority secret"); err != nil {
		return nil, err
	}
	return s, nil
}

// InsertSSHCASecret persists an SSH CA's encrypted private key. The key is
// written exactly once, at CA creation.
func (d *NoSQL) InsertSSHCASecret(ctx context.Context, s *SSHCertificateAuthoritySecret) error {
	return d.insert(ctx, sshCASecretsTable, s.CAID, s, "ssh certificate authority secret")
}

// InsertSSHCertificate persists a signed certificate record together with
// its encrypted body.
func (d *NoSQL) InsertSSHCertificate(ctx context.Context, cert *SSHCertificate, body *SSHCertificateBody) error {
	if err := d.insert(ctx, sshCertsTable, cert.ID, cert, "ssh certificate"); err != nil {
		return err
	}
	return d.insert(ctx, sshCertBodiesTable, body.CertificateID, body, "ssh certificate body")
}

// GetSSHCertificate returns a signed certificate record and its encrypted
// body.
func (d *NoSQL) GetSSHCertificate(ctx context.Context, id string) (*SSHCertificate, *SSHCertificateBody, error) {
	cert := new(SSHCertificate)
	if err := d.get(ctx, sshCertsTable, id, cert, "ssh certificate"); err != nil {
		return nil, nil, err
	}
	body := new(SSHCertificateBody)
	if err := d.get(ctx, sshCertBodiesTable, id, body, "ssh certificate body"); err != nil {
		return nil, nil, err
	}
	return cert, body, nil
}

// ListSSHCertificatesByCA returns every certificate signed by the given CA.
func (d *NoSQL) ListSSHCertificatesByCA(ctx context.Context, caID string) ([]*SSHCertificate, error) {
	var out []*SSHCertificate
	err := d.list(ctx, sshCertsTable, "ssh certificate", func(b []byte) error {
		c := new(SSHCertificate)
		if err := json.Unmarshal(b, c); err != nil {
			return err
		}
		if c.CAID == caID {
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
