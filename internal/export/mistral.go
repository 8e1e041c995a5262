// Package export writes resolved invoice lines in the Mistral TXT import
// format: tab separated, Windows-1251 encoded.
package export

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"microvision.org/internal/resolve"
)

// Header is the fixed first line expected by the importer.
const Header = "Склад\tСклад\tНомер\tИме на материал\tК-во\tЕд. цена\tПродажна цена\tБаркод"

// DefaultStorage fills the first column when no storage is configured.
const DefaultStorage = "1.00"

const storageName = "Склад"

// Write encodes items to w. Characters that Windows-1251 cannot represent
// are replaced by "?".
func Write(w io.Writer, storage string, items []resolve.FinalLineItem) error {
	if storage == "" {
		storage = DefaultStorage
	}
	enc := charmap.Windows1251.NewEncoder()
	bw := bufio.NewWriter(w)
	line := func(s string) error {
		out, err := enc.String(s)
		if err != nil {
			out = replaceUnencodable(s)
		}
		_, err = bw.WriteString(out + "\n")
		return err
	}
	if err := line(Header); err != nil {
		return err
	}
	for _, it := range items {
		sale := ""
		if it.SalePrice.Valid {
			sale = it.SalePrice.Decimal.String()
		}
		fields := []string{
			storage,
			storageName,
			field(it.Code),
			field(it.Name),
			it.Qty.String(),
			it.Price.String(),
			sale,
			field(it.Barcode),
		}
		if err := line(strings.Join(fields, "\t")); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile writes the export to path.
func WriteFile(path, storage string, items []resolve.FinalLineItem) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := Write(f, storage, items); err != nil {
		f.Close()
		return fmt.Errorf("export: %w", err)
	}
	return f.Close()
}

// field keeps tabs and newlines out of a column.
func field(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func replaceUnencodable(s string) string {
	var b strings.Builder
	enc := charmap.Windows1251
	for _, r := range s {
		if c, ok := enc.EncodeRune(r); ok {
			b.WriteByte(c)
		} else {
			b.WriteByte('?')
		}
	}
	return b.String()
}
