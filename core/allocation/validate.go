package allocation

import (
	"sort"

	"go.uber.org/zap"

	"cloud-cost-allocation/core/types"
	"cloud-cost-allocation/internal/errors"
)

// normalizeDateAndCurrency enforces the allocation date and currency.
// Records without date or currency inherit them; records of another date
// are dropped; a record of another currency fails the run.
func (a *Allocator) normalizeDateAndCurrency(records []types.CostRecord) ([]types.CostRecord, error) {
	kept := records[:0:0]
	droppedByDate := make(map[string]int)

	for _, record := range records {
		base := record.Base()

		if base.Date == "" {
			base.Date = a.Date
		} else if base.Date != a.Date {
			droppedByDate[base.Date]++
			continue
		}

		if base.Currency == "" {
			base.Currency = a.Currency
		} else if base.Currency != a.Currency {
			a.logger.Error("Found cost records with different currencies",
				zap.String("expected", a.Currency),
				zap.String("found", base.Currency),
				zap.String("service_instance", base.InstanceKey()),
			)
			return nil, errors.Newf(errors.TypeCurrencyMismatch,
				"found cost records with different currencies: %s and %s", a.Currency, base.Currency).
				WithContext("service_instance", base.InstanceKey())
		}

		kept = append(kept, record)
	}

	if len(droppedByDate) > 0 {
		dates := make([]string, 0, len(droppedByDate))
		for d := range droppedByDate {
			dates = append(dates, d)
		}
		sort.Strings(dates)

		total := 0
		for _, d := range dates {
			n := droppedByDate[d]
			total += n
			a.logger.Warn("Dropped cost records with a different date",
				zap.String("expected", a.Date),
				zap.String("found", d),
				zap.Int("records", n),
			)
		}
		a.stats.DroppedRecords += total
		a.observer.RecordsDropped(DropDateMismatch, total)
	}
	return kept, nil
}
