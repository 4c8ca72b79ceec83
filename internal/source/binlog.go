package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"mysql-binlog-watcher/internal/models"
)

// BinlogConfig holds the replication connection settings.
type BinlogConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	ServerID uint32
	Flavor   string // mysql or mariadb
}

// Binlog is a Source backed by a go-mysql replication stream. It keeps a
// plain client connection alongside the replication stream for schema
// introspection (column names and types are not present in the binlog before
// MySQL 8.0 row metadata).
type Binlog struct {
	cfg    BinlogConfig
	logger *logrus.Logger

	db       *sql.DB
	syncer   *replication.BinlogSyncer
	streamer *replication.BinlogStreamer

	mu     sync.RWMutex
	filter Config

	tables      map[uint64]*replication.TableMapEvent
	columnNames map[string][]string
	columnTypes map[string][]string

	done    chan struct{}
	fatal   chan error
	started bool
	stopped bool
}

// NewBinlog opens the introspection connection and verifies it with a ping.
// The replication stream itself is not established until Start.
func NewBinlog(cfg BinlogConfig, logger *logrus.Logger) (*Binlog, error) {
	if cfg.Flavor == "" {
		cfg.Flavor = "mysql"
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/", cfg.User, cfg.Password, cfg.Host, cfg.Port)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open introspection connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL server: %w", err)
	}

	return &Binlog{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		tables:      make(map[uint64]*replication.TableMapEvent),
		columnNames: make(map[string][]string),
		columnTypes: make(map[string][]string),
		done:        make(chan struct{}),
		fatal:       make(chan error, 1),
	}, nil
}

// Start establishes the replication stream and begins delivering records to h
// on a background goroutine.
func (b *Binlog) Start(cfg Config, h Handler) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return errors.New("binlog source already started")
	}
	b.filter = cfg
	b.started = true
	b.mu.Unlock()

	pos := mysql.Position{Pos: 4}
	if cfg.StartAtEnd {
		var err error
		pos, err = b.masterPosition()
		if err != nil {
			return fmt.Errorf("failed to resolve master position: %w", err)
		}
	}

	b.syncer = replication.NewBinlogSyncer(replication.BinlogSyncerConfig{
		ServerID: b.cfg.ServerID,
		Flavor:   b.cfg.Flavor,
		Host:     b.cfg.Host,
		Port:     uint16(b.cfg.Port),
		User:     b.cfg.User,
		Password: b.cfg.Password,
	})

	streamer, err := b.syncer.StartSync(pos)
	if err != nil {
		return fmt.Errorf("failed to start binlog sync: %w", err)
	}
	b.streamer = streamer
	b.logger.Infof("Started binlog sync from position %s:%d", pos.Name, pos.Pos)

	go b.run(h)
	return nil
}

// Reconfigure swaps the filter of a running stream. Events already pulled off
// the wire may still be delivered under the previous filter.
func (b *Binlog) Reconfigure(cfg Config) error {
	b.mu.Lock()
	b.filter = cfg
	b.mu.Unlock()
	return nil
}

// Stop tears down the replication stream and the introspection connection.
func (b *Binlog) Stop() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.done)
	if b.syncer != nil {
		b.syncer.Close()
	}
	if b.db != nil {
		b.db.Close()
	}
	return nil
}

// Connection returns the introspection database handle.
func (b *Binlog) Connection() *sql.DB {
	return b.db
}

// Err reports a fatal stream failure.
func (b *Binlog) Err() <-chan error {
	return b.fatal
}

func (b *Binlog) snapshot() Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter
}

func (b *Binlog) run(h Handler) {
	for {
		select {
		case <-b.done:
			b.logger.Info("Binlog source stopped")
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		event, err := b.streamer.GetEvent(ctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, replication.ErrSyncClosed) ||
				strings.Contains(err.Error(), "Sync was closed") {
				return
			}
			b.logger.Errorf("Fatal binlog stream error: %v", err)
			select {
			case b.fatal <- err:
			default:
			}
			return
		}

		b.handleEvent(event, h)
	}
}

func (b *Binlog) handleEvent(event *replication.BinlogEvent, h Handler) {
	cfg := b.snapshot()

	switch e := event.Event.(type) {
	case *replication.TableMapEvent:
		b.tables[e.TableID] = e
		schema, table := string(e.Schema), string(e.Table)
		b.logger.Debugf("Cached table map for %s.%s (ID: %d)", schema, table, e.TableID)
		if cfg.Wants(models.OpTableMeta) && cfg.Includes(schema, table) {
			h(&models.ChangeRecord{
				Schema:    schema,
				Table:     table,
				Op:        models.OpTableMeta,
				Timestamp: time.Now().Unix(),
				Rows:      []map[string]interface{}{},
			})
		}

	case *replication.RowsEvent:
		op, ok := rowsOp(event.Header.EventType)
		if !ok {
			b.logger.Debugf("Unhandled row event type: %d", event.Header.EventType)
			return
		}
		schema, table := string(e.Table.Schema), string(e.Table.Table)
		if !cfg.Wants(op) || !cfg.Includes(schema, table) {
			return
		}

		rec, err := b.convert(e, op)
		if err != nil {
			b.logger.Errorf("Error converting %s event for %s.%s: %v", op, schema, table, err)
			return
		}
		h(rec)
		b.logger.Debugf("Forwarded %s record for %s.%s (%d rows)", op, schema, table, len(rec.Rows))

	case *replication.RotateEvent:
		b.logger.Infof("Binlog rotated to: %s", string(e.NextLogName))

	case *replication.QueryEvent:
		b.logger.Debugf("Query event: %s", string(e.Query))

	case *replication.XIDEvent:
		b.logger.Debugf("XID event: %d", e.XID)

	default:
		b.logger.Debugf("Unhandled event type: %T", e)
	}
}

func rowsOp(t replication.EventType) (models.Op, bool) {
	switch t {
	case replication.WRITE_ROWS_EVENTv0, replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		return models.OpInsert, true
	case replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		return models.OpUpdate, true
	case replication.DELETE_ROWS_EVENTv0, replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
		return models.OpDelete, true
	}
	return 0, false
}

func (b *Binlog) convert(e *replication.RowsEvent, op models.Op) (*models.ChangeRecord, error) {
	tableMap, ok := b.tables[e.TableID]
	if !ok {
		return nil, fmt.Errorf("table map not found for table ID %d", e.TableID)
	}

	schema := string(e.Table.Schema)
	table := string(e.Table.Table)

	var columns, types []string
	if len(tableMap.ColumnName) > 0 {
		// MySQL 8.0+ with binlog_row_metadata carries names in the binlog.
		columns = make([]string, len(tableMap.ColumnName))
		for i, col := range tableMap.ColumnName {
			columns[i] = string(col)
		}
		if _, t, err := b.columnInfo(schema, table); err == nil {
			types = t
		} else {
			b.logger.Warnf("Failed to get column types for %s.%s: %v", schema, table, err)
		}
	} else {
		var err error
		columns, types, err = b.columnInfo(schema, table)
		if err != nil {
			return nil, fmt.Errorf("failed to get column info: %w", err)
		}
		if len(columns) < int(tableMap.ColumnCount) {
			b.logger.Warnf("Column count mismatch for %s.%s: binlog has %d, schema has %d",
				schema, table, tableMap.ColumnCount, len(columns))
		}
	}

	return buildRecord(schema, table, op, e.Rows, columns, types, time.Now().Unix()), nil
}

// columnInfo returns column names and types for schema.table, consulting
// INFORMATION_SCHEMA on a cache miss.
func (b *Binlog) columnInfo(schema, table string) ([]string, []string, error) {
	key := schema + "." + table
	b.mu.RLock()
	names, ok := b.columnNames[key]
	types := b.columnTypes[key]
	b.mu.RUnlock()
	if ok {
		return names, types, nil
	}

	rows, err := b.db.Query(`
		SELECT COLUMN_NAME, COLUMN_TYPE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, schema, table)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query column info: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, colType string
		if err := rows.Scan(&name, &colType); err != nil {
			return nil, nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		names = append(names, name)
		types = append(types, colType)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating columns: %w", err)
	}

	b.mu.Lock()
	b.columnNames[key] = names
	b.columnTypes[key] = types
	b.mu.Unlock()
	b.logger.Debugf("Fetched %d columns for %s.%s", len(names), schema, table)
	return names, types, nil
}

// buildRecord maps raw row images onto named columns. For updates the raw
// slice alternates old and new images.
func buildRecord(schema, table string, op models.Op, raw [][]interface{}, columns, types []string, ts int64) *models.ChangeRecord {
	rec := &models.ChangeRecord{
		Schema:    schema,
		Table:     table,
		Op:        op,
		Timestamp: ts,
		Rows:      make([]map[string]interface{}, 0),
		OldRows:   make([]map[string]interface{}, 0),
	}

	if op == models.OpUpdate {
		for i := 0; i+1 < len(raw); i += 2 {
			rec.OldRows = append(rec.OldRows, rowMap(raw[i], columns, types))
			rec.Rows = append(rec.Rows, rowMap(raw[i+1], columns, types))
		}
		return rec
	}

	for _, row := range raw {
		rec.Rows = append(rec.Rows, rowMap(row, columns, types))
	}
	return rec
}

func rowMap(row []interface{}, columns, types []string) map[string]interface{} {
	m := make(map[string]interface{})
	for i := 0; i < len(row) && i < len(columns); i++ {
		m[columns[i]] = convertValue(row[i], i, types)
	}
	return m
}

// convertValue turns []byte images of TEXT columns into strings; BLOB columns
// stay as []byte so JSON encoding base64s them.
func convertValue(value interface{}, col int, types []string) interface{} {
	b, ok := value.([]byte)
	if !ok {
		return value
	}
	if col < len(types) {
		if strings.Contains(strings.ToUpper(types[col]), "TEXT") {
			return string(b)
		}
		return value
	}
	// No type info: treat reasonably sized null-free data as text.
	if len(b) < 65535 && !strings.ContainsRune(string(b), 0) {
		return string(b)
	}
	return value
}

func (b *Binlog) masterPosition() (mysql.Position, error) {
	rows, err := b.db.Query("SHOW MASTER STATUS")
	if err != nil {
		return mysql.Position{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return mysql.Position{}, err
	}
	if !rows.Next() {
		return mysql.Position{}, errors.New("SHOW MASTER STATUS returned no rows (is binlog enabled?)")
	}

	// Column count varies across server versions; only the first two matter.
	var name string
	var pos uint32
	dest := make([]interface{}, len(cols))
	dest[0], dest[1] = &name, &pos
	for i := 2; i < len(cols); i++ {
		dest[i] = new(sql.RawBytes)
	}
	if err := rows.Scan(dest...); err != nil {
		return mysql.Position{}, err
	}
	return mysql.Position{Name: name, Pos: pos}, nil
}
