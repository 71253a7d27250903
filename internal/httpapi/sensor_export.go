package httpapi

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"smarthome-gateway/internal/models"
)

const (
	exportSheetName   = "Sensor Data"
	exportDefaultRows = 1000
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// SensorExportHeader 导出表头
var SensorExportHeader = []string{
	"Timestamp",
	"Temperature",
	"Humidity",
	"Rain Reading",
	"Classified Sound",
	"Confidence",
	"Window",
	"Heat",
	"Cool",
	"Reason",
	"Trash Alert",
}

var exportColumnWidths = []float64{20, 12, 12, 12, 18, 12, 10, 10, 10, 40, 12}

// ExportSensors GET /api/v1/sensors/export?limit=1000
func (h *ControlHandler) ExportSensors(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, exportDefaultRows)
	records, err := h.svc.RecentRecords(r.Context(), limit)
	if err != nil {
		h.fail(w, "ExportSensors", err)
		return
	}

	data, err := GenerateSensorExport(records)
	if err != nil {
		h.logger.Error("GenerateSensorExport failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to generate export")
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", "attachment; filename=sensor-data-export.xlsx")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// GenerateSensorExport 传感器记录 → Excel（最新在前）
func GenerateSensorExport(records []models.SensorRecord) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(exportSheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range SensorExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(exportSheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(exportSheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}

		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(exportSheetName, name, name, exportColumnWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, rec := range records {
		row := []any{
			rec.Timestamp.Format("2006-01-02 15:04:05"),
			rec.Temperature,
			rec.Humidity,
			rec.RainReading,
			rec.ClassifiedSound,
			rec.Confidence,
			rec.WindowStatus,
			rec.HeatStatus,
			rec.CoolStatus,
			rec.Reason,
			rec.AlertBit,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(exportSheetName, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	// 冻结表头
	if err := f.SetPanes(exportSheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}
