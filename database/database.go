package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/tickettoken/ticket-indexer/config"
	gormMysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	tcp = "tcp"

	mysqlDuplicateEntry = 1062
)

var (
	// List entities to auto-migrate
	entities = []interface{}{
		IndexerState{},
		IndexedTransaction{},
		AssetEvent{},
		Token{},
		ReconciliationRun{},
		OwnershipDiscrepancy{},
		TransactionAuditLog{},
	}
	DBTransactionBatchesSize = 1000

	// ErrDuplicate reports a unique constraint violation.
	ErrDuplicate = errors.New("database: duplicate key")
)

func ConnectAndInitialize(ctx context.Context, cfg *config.DBConfig, version string) (*gorm.DB, error) {
	db, err := Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("ConnectAndInitialize: Connect: %w", err)
	}

	if err := Initialize(ctx, db, cfg.DropTableAtStart, version); err != nil {
		return nil, err
	}

	return db, nil
}

// Initialize migrates the schema and makes sure the indexer state row exists.
func Initialize(ctx context.Context, db *gorm.DB, dropTables bool, version string) error {
	if dropTables {
		err := db.Migrator().DropTable(entities...)
		if err != nil {
			return errors.Wrap(err, "Initialize: DropTable")
		}
	}

	// Initialize - auto migrate
	err := db.AutoMigrate(entities...)
	if err != nil {
		return errors.Wrap(err, "Initialize: AutoMigrate")
	}

	// If the state info is not in the DB, create it
	state := IndexerState{Name: IngestionStateName}
	err = db.WithContext(ctx).
		Where(&IndexerState{Name: IngestionStateName}).
		Attrs(IndexerState{IndexerVersion: version, UpdatedAt: time.Now()}).
		FirstOrCreate(&state).Error
	if err != nil {
		return errors.Wrap(err, "Initialize: FirstOrCreate state")
	}

	return nil
}

func Connect(cfg *config.DBConfig) (*gorm.DB, error) {
	// Connect to the database
	dbConfig := mysql.Config{
		User:                 cfg.Username,
		Passwd:               cfg.Password,
		Net:                  tcp,
		Addr:                 fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		DBName:               cfg.Database,
		AllowNativePasswords: true,
		ParseTime:            true,
	}

	gormLogLevel := getGormLogLevel(cfg)
	gormConfig := gorm.Config{
		Logger:          newGormLogger(gormLogLevel),
		CreateBatchSize: DBTransactionBatchesSize,
	}
	return gorm.Open(gormMysql.Open(dbConfig.FormatDSN()), &gormConfig)
}

func getGormLogLevel(cfg *config.DBConfig) gormlogger.LogLevel {
	if cfg.LogQueries {
		return gormlogger.Info
	}

	return gormlogger.Warn
}

// translateError maps unique violations to ErrDuplicate, keeping the driver
// error in the chain.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if IsDuplicate(err) {
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	}
	return err
}

func IsDuplicate(err error) bool {
	if errors.Is(err, ErrDuplicate) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
