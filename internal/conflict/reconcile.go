package conflict

import (
	"context"

	"github.com/tildaslashalef/fieldsync/internal/entity"
)

// reconcileMoney compares the financial fields of a local record against the
// server values about to replace them. Drifts within tolerance are adopted
// silently; larger ones are logged and written to the audit trail. It returns
// the number of drifts beyond tolerance.
func (m *Manager) reconcileMoney(ctx context.Context, audit *AuditLog, rec *entity.Record, server entity.Entity) (int, error) {
	exceeded := 0
	for _, d := range entity.CompareMoney(rec.Entity, server) {
		if !d.Exceeds(m.cfg.MoneyTolerance) {
			m.logger.Debug("Adopted server value within tolerance",
				"entity_type", rec.Type(),
				"entity_id", rec.LocalID,
				"field", d.Field,
				"delta", d.Delta())
			continue
		}

		exceeded++
		m.logger.Warn("Financial discrepancy, server value applied",
			"entity_type", rec.Type(),
			"entity_id", rec.LocalID,
			"field", d.Field,
			"local_value", d.Local,
			"server_value", d.Server,
			"delta", d.Delta())

		if err := audit.Record(ctx, NewDriftEntry(rec.Type(), rec.LocalID, d)); err != nil {
			return exceeded, err
		}
	}
	return exceeded, nil
}
