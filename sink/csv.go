package sink

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"catalog-harvester/harvest"
)

const lockTTL = 10 * time.Minute

var csvColumns = []string{
	"product_id", "product_url", "name",
	"brand_name", "brand_id", "brand_url",
	"image_url", "wholesale_price_minor", "retail_price_minor",
	"badges", "has_complete_data",
	"description", "sku", "origin_country", "shipping_info",
	"dimensions", "materials", "minimum_order_quantity", "case_pack_quantity",
	"color", "scraped_at", "detail_fetch_succeeded", "fetch_error",
}

// CSVSink appends enriched records to a CSV file, keeping a sorted `.ids`
// sidecar for cheap cross-run dedup and holding a TTL lock file so two
// writers never interleave.
type CSVSink struct {
	path     string
	idsPath  string
	lockPath string
	known    map[string]struct{}
	lockHeld int32
}

// OpenCSVSink prepares the CSV file (header + BOM), rebuilds the ID sidecar
// if it is stale, and takes the writer lock.
func OpenCSVSink(path string) (*CSVSink, error) {
	s := &CSVSink{
		path:     path,
		idsPath:  path + ".ids",
		lockPath: path + ".lock",
	}
	if err := ensureHeader(path); err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	s.known = ensureIDsIndex(path, s.idsPath)

	if !acquireLock(s.lockPath, lockTTL) {
		return nil, fmt.Errorf("another writer holds %s", s.lockPath)
	}
	atomic.StoreInt32(&s.lockHeld, 1)
	go s.heartbeat()
	return s, nil
}

func (s *CSVSink) PersistBatch(ctx context.Context, batch []harvest.EnrichedRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	fresh := make([]harvest.EnrichedRecord, 0, len(batch))
	ids := make([]string, 0, len(batch))
	for _, r := range batch {
		if r.ProductID == "" {
			continue
		}
		if _, ok := s.known[r.ProductID]; ok {
			continue
		}
		s.known[r.ProductID] = struct{}{}
		fresh = append(fresh, r)
		ids = append(ids, r.ProductID)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	if err := appendRows(s.path, fresh); err != nil {
		return 0, fmt.Errorf("csv append: %w", err)
	}
	if err := appendIDs(s.idsPath, ids); err != nil {
		return 0, fmt.Errorf("ids append: %w", err)
	}
	return len(fresh), nil
}

func (s *CSVSink) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.lockHeld, 0)
	return os.Remove(s.lockPath)
}

func (s *CSVSink) heartbeat() {
	t := time.NewTicker(60 * time.Second)
	defer t.Stop()
	for atomic.LoadInt32(&s.lockHeld) == 1 {
		<-t.C
		now := time.Now()
		_ = os.Chtimes(s.lockPath, now, now)
	}
}

func ensureHeader(path string) error {
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(absPath(path)), 0755); err != nil && !errors.Is(err, os.ErrExist) {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	// UTF-8 BOM for Excel friendliness.
	if _, err := f.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(csvColumns); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}

func appendRows(path string, rows []harvest.EnrichedRecord) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	bufw := bufio.NewWriterSize(f, 1<<20)
	w := csv.NewWriter(bufw)
	for _, r := range rows {
		rec := []string{
			r.ProductID, r.ProductURL, r.Name,
			r.BrandName, r.BrandID, r.BrandURL,
			r.ImageURL, strconv.Itoa(r.WholesalePriceMinor), strconv.Itoa(r.RetailPriceMinor),
			strings.Join(r.Badges, "|"), strconv.FormatBool(r.HasCompleteData),
			r.Description, r.SKU, r.OriginCountry, r.ShippingInfo,
			r.Dimensions, r.Materials, r.MinimumOrderQuantity, r.CasePackQuantity,
			r.Color, r.ScrapedAt.UTC().Format(time.RFC3339), strconv.FormatBool(r.DetailFetchSucceeded), r.FetchError,
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := bufw.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func appendIDs(idsPath string, ids []string) error {
	f, err := os.OpenFile(idsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	for _, id := range ids {
		bw.WriteString(id)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

// ensureIDsIndex loads the sidecar, rebuilding it from the CSV when the CSV
// is newer (e.g. a manual edit) or the sidecar is missing.
func ensureIDsIndex(csvPath, idsPath string) map[string]struct{} {
	csvInfo, csvErr := os.Stat(csvPath)
	idsInfo, idsErr := os.Stat(idsPath)

	if idsErr == nil && csvErr == nil && csvInfo.ModTime().After(idsInfo.ModTime()) {
		ids := scanCSVForIDs(csvPath)
		writeIDs(idsPath, ids)
		return ids
	}
	if idsErr == nil {
		return readIDsSidecar(idsPath)
	}

	ids := make(map[string]struct{})
	if csvErr == nil {
		ids = scanCSVForIDs(csvPath)
	}
	writeIDs(idsPath, ids)
	return ids
}

func readIDsSidecar(idsPath string) map[string]struct{} {
	out := make(map[string]struct{}, 4096)
	b, err := os.ReadFile(idsPath)
	if err != nil {
		return out
	}
	for _, line := range strings.Split(string(b), "\n") {
		if s := strings.TrimSpace(line); s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func scanCSVForIDs(csvPath string) map[string]struct{} {
	out := make(map[string]struct{}, 4096)
	f, err := os.Open(csvPath)
	if err != nil {
		return out
	}
	defer f.Close()

	br := bufio.NewReader(f)
	first3, _ := br.Peek(3)
	if len(first3) == 3 && first3[0] == 0xEF && first3[1] == 0xBB && first3[2] == 0xBF {
		br.Discard(3)
	}
	r := csv.NewReader(br)

	header, err := r.Read()
	if err != nil {
		return out
	}
	idx := -1
	for i, h := range header {
		if h == "product_id" {
			idx = i
			break
		}
	}
	if idx < 0 {
		return out
	}
	for {
		row, err := r.Read()
		if err != nil {
			break
		}
		if len(row) <= idx {
			continue
		}
		if id := strings.TrimSpace(row[idx]); id != "" {
			out[id] = struct{}{}
		}
	}
	return out
}

func writeIDs(idsPath string, ids map[string]struct{}) {
	_ = os.MkdirAll(filepath.Dir(absPath(idsPath)), 0755)
	sl := make([]string, 0, len(ids))
	for id := range ids {
		sl = append(sl, id)
	}
	sort.Strings(sl)
	_ = os.WriteFile(idsPath, []byte(strings.Join(sl, "\n")+"\n"), 0644)
}

func absPath(p string) string {
	ap, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return ap
}

// acquireLock takes the writer lock, stealing it when the holder's heartbeat
// has gone stale past the TTL.
func acquireLock(lockPath string, ttl time.Duration) bool {
	abspath := absPath(lockPath)
	for {
		f, err := os.OpenFile(abspath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, _ = f.WriteString(fmt.Sprintf(`{"pid":%d,"time":%d}`+"\n", os.Getpid(), time.Now().Unix()))
			_ = f.Close()
			return true
		}
		fi, err := os.Stat(abspath)
		if err != nil {
			continue
		}
		if time.Since(fi.ModTime()) >= ttl {
			_ = os.Remove(abspath)
			continue
		}
		log.WithField("lock", abspath).Warn("another writer active")
		return false
	}
}
