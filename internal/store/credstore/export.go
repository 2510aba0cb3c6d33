// SPDX-License-Identifier: MIT

package credstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// ExportSession writes every record of the bound session as a decrypted file
// under dir, for operator backup. Files land atomically; a crashed export
// never leaves partial records behind.
func (s *Store) ExportSession(ctx context.Context, dir string) error {
	records, err := s.m.backend.List(ctx, s.sessionID)
	if err != nil {
		return fmt.Errorf("credstore: list for export: %w", err)
	}

	target := filepath.Join(dir, s.sessionID)
	if err := os.MkdirAll(target, 0o700); err != nil {
		return fmt.Errorf("credstore: export dir: %w", err)
	}

	for fileName, sealed := range records {
		data, err := s.m.box.Open(sealed)
		if err != nil {
			return fmt.Errorf("credstore: decrypt %s: %w", fileName, err)
		}
		path := filepath.Join(target, filepath.Base(fileName))
		if err := renameio.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("credstore: write %s: %w", fileName, err)
		}
	}
	return nil
}
