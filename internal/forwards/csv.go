package forwards

import (
	"encoding/csv"
	"io"
	"strconv"

	"nodestatus/internal/model"
)

// WriteCSV writes both rankings of a report with a fixed column order.
func WriteCSV(w io.Writer, report model.AggregationReport) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{
		"list",
		"rank",
		"alias",
		"fees_sat",
		"amount_out_sat",
		"events",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, list := range []struct {
		name  string
		peers []model.PeerAggregate
	}{
		{"top", report.Top},
		{"low", report.Low},
	} {
		for i, p := range list.peers {
			record := []string{
				list.name,
				strconv.Itoa(i + 1),
				p.Alias,
				strconv.FormatInt(p.FeesSat, 10),
				strconv.FormatInt(p.AmountOutSat, 10),
				strconv.Itoa(p.Events),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}
