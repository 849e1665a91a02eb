package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/WazeDev/hn-navpoints/internal/config"
	"github.com/WazeDev/hn-navpoints/internal/fetch"
)

// Measurement written for every house-number request.
const Measurement = "hn_fetch"

// Manager writes fetch telemetry to InfluxDB, or to a gzip'd line
// protocol backup file when the server is unreachable. It implements
// fetch.Observer.
type Manager struct {
	Client     influxdb2.Client
	Writer     influxdb2_api.WriteAPI
	IsValid    bool
	Logger     zerolog.Logger
	BackupPath string

	mu           sync.Mutex
	backupFile   *os.File
	backupWriter *gzip.Writer
}

// NewManager creates a manager that falls back to backupPath.
func NewManager(log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		Logger:     log,
		BackupPath: backupPath,
	}
}

// Connect creates the client and its write API, or opens the backup file
// when the server does not answer.
func (m *Manager) Connect(ctx context.Context, cfg config.InfluxConfig) error {
	if !cfg.Enabled {
		return errors.New("influx.enabled is false")
	}

	m.Client = influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", cfg.Protocol, cfg.Host, cfg.Port),
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	running, err := m.Client.Ping(ctx)
	if err != nil || !running {
		m.IsValid = false
		m.Logger.Info().Str("backupPath", m.BackupPath).
			Msg("Failed to initialize InfluxDB client, writing to backup file")
		return m.openBackup()
	}

	if err := m.ensureBucket(ctx, cfg.Org, cfg.Bucket); err != nil {
		return err
	}

	m.Writer = m.Client.WriteAPI(cfg.Org, cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			m.Logger.Error().Err(writeErr).Str("bucket", cfg.Bucket).
				Msg("Error sending data to InfluxDB")
		}
	}(m.Writer.Errors())

	m.IsValid = true
	m.Logger.Info().Str("bucket", cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	if m.BackupPath == "" {
		return errors.New("influxdb unreachable and no backup path set")
	}
	file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.mu.Lock()
	m.backupFile = file
	m.backupWriter = gzip.NewWriter(file)
	m.mu.Unlock()
	return nil
}

// ensureBucket creates the org and bucket when missing, with 30 day
// retention.
func (m *Manager) ensureBucket(ctx context.Context, orgName, bucket string) error {
	orgs := m.Client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		org, err = orgs.CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			return fmt.Errorf("error creating organization %s: %w", orgName, err)
		}
	}

	buckets := m.Client.BucketsAPI()
	if _, err := buckets.FindBucketByName(ctx, bucket); err == nil {
		return nil
	}
	m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")
	rule := domain.RetentionRuleTypeExpire
	_, err = buckets.CreateBucketWithName(ctx, org, bucket, domain.RetentionRule{
		Type:         &rule,
		EverySeconds: 60 * 60 * 24 * 30,
	})
	if err != nil {
		return fmt.Errorf("error creating bucket %s: %w", bucket, err)
	}
	return nil
}

// PointFor converts a request stat to an InfluxDB point.
func PointFor(stat fetch.ChunkStat, at time.Time) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement(Measurement).
		AddTag("outcome", string(stat.Outcome)).
		AddTag("attempt", strconv.Itoa(stat.Attempt)).
		AddField("size", stat.Size).
		AddField("records", stat.Records).
		AddField("skipped", stat.Skipped).
		AddField("duration_ms", float64(stat.Duration.Microseconds())/1000).
		SetTime(at)
	if stat.Err != nil {
		p.AddField("error", stat.Err.Error())
	}
	return p
}

// ObserveChunk records one request.
func (m *Manager) ObserveChunk(stat fetch.ChunkStat) {
	if err := m.WritePoint(PointFor(stat, time.Now())); err != nil {
		m.Logger.Warn().Err(err).Msg("Dropped fetch telemetry")
	}
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	if m.IsValid {
		m.Writer.WritePoint(point)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backupWriter == nil {
		return errors.New("influxDB client not initialized and backup writer not available")
	}
	line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := m.backupWriter.Write([]byte(line)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending points and closes the client or backup file.
func (m *Manager) Close() error {
	if m.IsValid {
		m.Writer.Flush()
		m.Client.Close()
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backupWriter == nil {
		return nil
	}
	err := errors.Join(m.backupWriter.Close(), m.backupFile.Close())
	m.backupWriter = nil
	m.backupFile = nil
	return err
}
