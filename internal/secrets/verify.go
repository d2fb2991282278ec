package secrets

import (
	"context"
	"fmt"
)

// VerifyAll attempts to decrypt every stored secret, proving the active
// master key matches what the rows were sealed with. Run at boot so a key
// mismatch surfaces before any job needs a provider credential.
func (s *Service) VerifyAll(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM secrets`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var stored []byte
		if err := rows.Scan(&name, &stored); err != nil {
			return err
		}
		if _, err := s.open(stored); err != nil {
			return fmt.Errorf("decrypt %s: %w", name, err)
		}
	}
	return rows.Err()
}
