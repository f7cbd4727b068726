package importer

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/go-faster/errors"
)

// headerWords — значения первой ячейки, означающие строку заголовка.
var headerWords = map[string]struct{}{
	"url": {}, "urls": {}, "link": {}, "links": {},
	"username": {}, "usernames": {}, "channel": {}, "channels": {},
}

// ParseRefs читает ссылки на каналы из первой колонки CSV. Заголовок,
// пустые строки и повторы отбрасываются; порядок первых вхождений сохраняется.
func ParseRefs(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		refs []string
		seen = make(map[string]struct{})
		row  int
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read csv")
		}
		row++

		if len(record) == 0 {
			continue
		}
		ref := strings.TrimSpace(record[0])
		if ref == "" {
			continue
		}
		if row == 1 {
			if _, ok := headerWords[strings.ToLower(ref)]; ok {
				continue
			}
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}

	if len(refs) == 0 {
		return nil, errors.New("csv contains no channel references")
	}
	return refs, nil
}
