package orchestrator

import (
	"go.uber.org/zap"

	"github.com/chatarchive/mamsync/internal/store"
)

// migrateLegacy converts the old archival bookkeeping once per account.
// It runs only while no stored message carries a chain link other than
// the legacy sentinel. For each contact that has stored history and a
// legacy sync record, the oldest message gets its archive cursor from
// that record and its chain link cleared, so the regular gap healing
// rebuilds the chain under the new scheme.
func (o *Orchestrator) migrateLegacy(acc *store.Account) error {
	needed, err := o.db.NeedsLegacyMigration(acc.JID, store.LegacySentinel)
	if err != nil {
		return err
	}
	if !needed {
		return nil
	}

	contacts, err := o.roster.Contacts(acc.JID)
	if err != nil {
		return err
	}
	migrated := 0
	for _, contact := range contacts {
		n, err := o.db.TopLevelCount(acc.JID, contact.JID)
		if err != nil || n == 0 {
			continue
		}
		rec, err := o.db.GetLegacySync(acc.JID, contact.JID)
		if err != nil || rec == nil || rec.FirstCursor == "" {
			continue
		}
		oldest, err := o.db.OldestTopLevel(acc.JID, contact.JID)
		if err != nil || oldest == nil {
			continue
		}
		if err := o.db.SetArchiveCursor(oldest.ID, rec.FirstCursor); err != nil {
			o.log.Error("migrate cursor", zap.Error(err))
			continue
		}
		if err := o.db.SetPreviousCursor(oldest.ID, nil); err != nil {
			o.log.Error("clear chain link", zap.Error(err))
			continue
		}
		migrated++
	}
	if migrated > 0 {
		o.log.Info("legacy records migrated",
			zap.String("account", acc.JID),
			zap.Int("conversations", migrated))
	}
	return nil
}
