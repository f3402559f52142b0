package dataset

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
)

// LoadXLSX reads one worksheet of an .xlsx workbook. The first row is the
// header. sheetName selects a sheet case-insensitively; empty means the first
// sheet in workbook order.
func LoadXLSX(filePath, sheetName string, opt ParseOptions) (*Dataset, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer zr.Close()
	rows, err := readSheet(&zr.Reader, sheetName, filepath.Base(filePath))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return New(datasetName(filePath), nil, nil)
	}
	return FromRecords(datasetName(filePath), rows[0], rows[1:], opt)
}

// SheetNames lists worksheet names in workbook order.
func SheetNames(filePath string) ([]string, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer zr.Close()
	wb, err := readWorkbook(&zr.Reader)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(wb.Sheets))
	for i, s := range wb.Sheets {
		names[i] = s.Name
	}
	return names, nil
}

type workbookXML struct {
	Sheets []struct {
		Name string `xml:"name,attr"`
		RID  string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sheets>sheet"`
}

type relationshipsXML struct {
	Items []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

func readWorkbook(zr *zip.Reader) (*workbookXML, error) {
	data, err := zipEntry(zr, "xl/workbook.xml")
	if err != nil {
		return nil, err
	}
	var wb workbookXML
	if err := xml.Unmarshal(data, &wb); err != nil {
		return nil, fmt.Errorf("parse workbook: %w", err)
	}
	return &wb, nil
}

func readSheet(zr *zip.Reader, sheetName, display string) ([][]string, error) {
	wb, err := readWorkbook(zr)
	if err != nil {
		return nil, err
	}
	if len(wb.Sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", display)
	}
	rid := wb.Sheets[0].RID
	if sheetName != "" {
		rid = ""
		for _, s := range wb.Sheets {
			if strings.EqualFold(s.Name, sheetName) {
				rid = s.RID
				break
			}
		}
		if rid == "" {
			avail := make([]string, len(wb.Sheets))
			for i, s := range wb.Sheets {
				avail[i] = s.Name
			}
			return nil, fmt.Errorf("sheet '%s' not found in workbook '%s'.\nAvailable sheets: %s",
				sheetName, display, strings.Join(avail, ", "))
		}
	}

	var rels relationshipsXML
	if data, err := zipEntry(zr, "xl/_rels/workbook.xml.rels"); err == nil {
		if err := xml.Unmarshal(data, &rels); err != nil {
			return nil, fmt.Errorf("parse workbook relationships: %w", err)
		}
	}
	target := ""
	for _, r := range rels.Items {
		if r.ID == rid {
			target = sheetPath(r.Target)
			break
		}
	}
	if target == "" {
		return nil, fmt.Errorf("no worksheet part for sheet relationship %q", rid)
	}
	sheetData, err := zipEntry(zr, target)
	if err != nil {
		return nil, err
	}
	var shared []string
	if data, err := zipEntry(zr, "xl/sharedStrings.xml"); err == nil {
		shared = sharedStrings(data)
	}
	return sheetRows(sheetData, shared)
}

var errNoEntry = errors.New("xlsx entry not found")

func zipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%w: %s", errNoEntry, name)
}

// sheetPath maps a relationship target onto a zip entry name. Targets are
// relative to xl/ unless they start with a slash.
func sheetPath(target string) string {
	t := strings.TrimPrefix(target, "/")
	if strings.HasPrefix(t, "xl/") {
		return t
	}
	return path.Join("xl", t)
}

func sharedStrings(data []byte) []string {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var out []string
	var buf strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				buf.Reset()
			case "t":
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "si":
				out = append(out, buf.String())
			}
		case xml.CharData:
			if inText {
				buf.Write(t)
			}
		}
	}
}

// sheetRows streams <row> elements into string records. Cells without a
// reference are placed after the previous cell.
func sheetRows(data []byte, shared []string) ([][]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		rows    [][]string
		cur     []string
		inRow   bool
		nextCol int
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return rows, nil
			}
			return nil, fmt.Errorf("parse worksheet: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "row":
				inRow, cur, nextCol = true, nil, 0
			case inRow && t.Name.Local == "c":
				var ref, typ string
				for _, a := range t.Attr {
					switch a.Name.Local {
					case "r":
						ref = a.Value
					case "t":
						typ = a.Value
					}
				}
				col := nextCol
				if ref != "" {
					col = columnIndex(ref)
				}
				val, err := cellValue(dec, typ, shared)
				if err != nil {
					return nil, err
				}
				for len(cur) <= col {
					cur = append(cur, "")
				}
				cur[col] = val
				nextCol = col + 1
			}
		case xml.EndElement:
			if t.Name.Local == "row" && inRow {
				rows = append(rows, cur)
				inRow = false
			}
		}
	}
}

// cellValue consumes tokens up to the closing </c> and returns the cell text.
func cellValue(dec *xml.Decoder, typ string, shared []string) (string, error) {
	var sb strings.Builder
	capture := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("parse cell: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "v" || t.Name.Local == "t" {
				capture = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "v", "t":
				capture = false
			case "c":
				val := sb.String()
				switch typ {
				case "s":
					idx := leadingInt(val)
					if idx >= 0 && idx < len(shared) {
						return shared[idx], nil
					}
					return "", nil
				case "b":
					if val == "1" {
						return "true", nil
					}
					return "false", nil
				}
				return val, nil
			}
		case xml.CharData:
			if capture {
				sb.Write(t)
			}
		}
	}
}

// columnIndex maps a cell reference like "C12" to a 0-based column.
func columnIndex(ref string) int {
	idx := 0
	for i := 0; i < len(ref); i++ {
		c := ref[i]
		switch {
		case c >= 'A' && c <= 'Z':
			idx = idx*26 + int(c-'A'+1)
		case c >= 'a' && c <= 'z':
			idx = idx*26 + int(c-'a'+1)
		default:
			if idx == 0 {
				return 0
			}
			return idx - 1
		}
	}
	if idx == 0 {
		return 0
	}
	return idx - 1
}

func leadingInt(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}
