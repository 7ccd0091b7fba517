package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"catalog-harvester/harvest"
)

// PostgresOptions configures the database sink.
type PostgresOptions struct {
	DSN      string
	Schema   string
	MaxConns int
	// ViaBouncer switches to the simple protocol for PgBouncer transaction
	// pooling.
	ViaBouncer bool
}

// PostgresSink writes enriched records into a single table using batched
// inserts with ON CONFLICT DO NOTHING, so re-runs are additive and idempotent.
type PostgresSink struct {
	pool  *pgxpool.Pool
	table string
}

func OpenPostgresSink(ctx context.Context, opts PostgresOptions) (*PostgresSink, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("dsn parse: %w", err)
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 2
	}
	cfg.MaxConns = int32(opts.MaxConns)
	if opts.ViaBouncer {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	schema := strings.TrimSpace(opts.Schema)
	if schema == "" {
		schema = "public"
	}
	s := &PostgresSink{
		pool:  pool,
		table: fmt.Sprintf(`"%s".catalog_products`, schema),
	}
	if err := s.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresSink) ensureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		product_id              text PRIMARY KEY,
		product_url             text NOT NULL,
		name                    text,
		brand_name              text,
		brand_id                text,
		brand_url               text,
		image_url               text,
		wholesale_price_minor   integer NOT NULL DEFAULT 0,
		retail_price_minor      integer NOT NULL DEFAULT 0,
		badges                  text[],
		has_complete_data       boolean NOT NULL DEFAULT false,
		description             text,
		sku                     text,
		origin_country          text,
		shipping_info           text,
		dimensions              text,
		materials               text,
		minimum_order_quantity  text,
		case_pack_quantity      text,
		color                   text,
		scraped_at              timestamptz,
		detail_fetch_succeeded  boolean NOT NULL DEFAULT false,
		fetch_error             text
	)`)
	if err != nil {
		return fmt.Errorf("ensure table: %w", err)
	}
	return nil
}

func (s *PostgresSink) PersistBatch(ctx context.Context, batch []harvest.EnrichedRecord) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	b := &pgx.Batch{}
	count := 0
	for _, r := range batch {
		if strings.TrimSpace(r.ProductID) == "" {
			continue
		}
		var scraped *time.Time
		if !r.ScrapedAt.IsZero() {
			t := r.ScrapedAt.UTC()
			scraped = &t
		}
		b.Queue(
			`INSERT INTO `+s.table+`
			(product_id, product_url, name, brand_name, brand_id, brand_url,
			 image_url, wholesale_price_minor, retail_price_minor, badges,
			 has_complete_data, description, sku, origin_country, shipping_info,
			 dimensions, materials, minimum_order_quantity, case_pack_quantity,
			 color, scraped_at, detail_fetch_succeeded, fetch_error)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
			ON CONFLICT (product_id) DO NOTHING`,
			r.ProductID, r.ProductURL, r.Name, r.BrandName, r.BrandID, r.BrandURL,
			r.ImageURL, r.WholesalePriceMinor, r.RetailPriceMinor, r.Badges,
			r.HasCompleteData, r.Description, r.SKU, r.OriginCountry, r.ShippingInfo,
			r.Dimensions, r.Materials, r.MinimumOrderQuantity, r.CasePackQuantity,
			r.Color, scraped, r.DetailFetchSucceeded, r.FetchError,
		)
		count++
	}

	br := s.pool.SendBatch(ctx, b)
	total := 0
	for i := 0; i < count; i++ {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return total, err
		}
		total += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return total, err
	}
	return total, nil
}

func (s *PostgresSink) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}
