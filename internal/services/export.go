package services

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/mallshop/mall-backend/internal/models"
	"github.com/tealeg/xlsx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Order spreadsheet layout
const (
	OrderSheetName = "订单记录"
	currencyFormat = "¥#,##0.00"
	timeLayout     = "2006-01-02 15:04:05"
)

var orderSheetHeaders = []string{"订单ID", "订单状态", "创建时间", "总金额", "商品信息", "数量", "单价", "小计"}

var orderSheetWidths = []float64{10, 12, 20, 14, 30, 8, 12, 14}

// ExportOrdersToExcel writes the user's orders as an xlsx workbook to w,
// one row per order item.
func (s *OrderService) ExportOrdersToExcel(ctx context.Context, userID int64, w io.Writer) error {
	orders, err := s.ListUserOrders(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExport, err)
	}

	file, err := buildOrderWorkbook(orders)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExport, err)
	}
	if err := file.Write(w); err != nil {
		return fmt.Errorf("%w: failed to write workbook: %v", ErrExport, err)
	}

	s.metrics.OrderExportsTotal.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{})...))
	log.Printf("[ORDER] Orders exported: user_id=%d, orders=%d", userID, len(orders))
	return nil
}

func buildOrderWorkbook(orders []models.Order) (*xlsx.File, error) {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(OrderSheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	headerStyle := newCellStyle(true)
	bodyStyle := newCellStyle(false)

	headerRow := sheet.AddRow()
	for _, h := range orderSheetHeaders {
		cell := headerRow.AddCell()
		cell.SetString(h)
		cell.SetStyle(headerStyle)
	}

	for _, order := range orders {
		items := order.Items
		if len(items) == 0 {
			items = []models.OrderItem{{}}
		}

		for i, item := range items {
			row := sheet.AddRow()

			// order level cells only on the first line of each order
			if i == 0 {
				addCell(row, bodyStyle).SetInt64(order.ID)
				addCell(row, bodyStyle).SetString(order.Status.Label())
				addCell(row, bodyStyle).SetString(order.CreatedAt.Local().Format(timeLayout))
				addCell(row, bodyStyle).SetFloatWithFormat(order.TotalAmount.InexactFloat64(), currencyFormat)
			} else {
				for j := 0; j < 4; j++ {
					addCell(row, bodyStyle)
				}
			}

			if item.ProductID == 0 {
				for j := 0; j < 4; j++ {
					addCell(row, bodyStyle)
				}
				continue
			}
			addCell(row, bodyStyle).SetString(item.ProductName)
			addCell(row, bodyStyle).SetInt(item.Quantity)
			addCell(row, bodyStyle).SetFloatWithFormat(item.Price.InexactFloat64(), currencyFormat)
			addCell(row, bodyStyle).SetFloatWithFormat(item.Subtotal.InexactFloat64(), currencyFormat)
		}
	}

	for col, width := range orderSheetWidths {
		if err := sheet.SetColWidth(col, col, width); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}
	return file, nil
}

func addCell(row *xlsx.Row, style *xlsx.Style) *xlsx.Cell {
	cell := row.AddCell()
	cell.SetStyle(style)
	return cell
}

func newCellStyle(header bool) *xlsx.Style {
	style := xlsx.NewStyle()
	style.Border = *xlsx.NewBorder("thin", "thin", "thin", "thin")
	style.ApplyBorder = true
	style.Alignment.Vertical = "center"
	style.ApplyAlignment = true
	if header {
		style.Font.Bold = true
		style.ApplyFont = true
		style.Alignment.Horizontal = "center"
		style.Fill = *xlsx.NewFill("solid", "FFD9D9D9", "FFD9D9D9")
		style.ApplyFill = true
	}
	return style
}
