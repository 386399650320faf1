package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/merchantpulse/sync-worker/internal/config"
	"github.com/merchantpulse/sync-worker/internal/models"
	"github.com/merchantpulse/sync-worker/internal/platform/meta"
	"github.com/merchantpulse/sync-worker/internal/platform/shiprocket"
	"github.com/merchantpulse/sync-worker/internal/platform/shopify"
	"github.com/merchantpulse/sync-worker/internal/progress"
)

// syncWindow is the reporting range for analytics and ad insights.
const syncWindow = 30 * 24 * time.Hour

// FatalError marks a failure of our own storage rather than of a provider.
// Provider failures are folded into the per-platform result; fatal errors
// abort the job attempt so the queue can retry it.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err aborts the job attempt.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// CommerceClient is the slice of the Shopify client the orchestrator uses.
type CommerceClient interface {
	TestConnection(ctx context.Context) (*shopify.Shop, error)
	Products(ctx context.Context, sinceID int64, fn func(shopify.Product) error) error
	Orders(ctx context.Context, sinceID int64, fn func(shopify.Order) error) error
	Analytics(ctx context.Context, since, until time.Time) (*shopify.Analytics, error)
}

// AdsClient is the slice of the Meta client the orchestrator uses.
type AdsClient interface {
	TestConnection(ctx context.Context) (*meta.User, error)
	AdInsights(ctx context.Context, since, until time.Time, fields []string) ([]meta.AdInsight, error)
	Campaigns(ctx context.Context) ([]meta.Campaign, error)
}

// LogisticsClient is the slice of the Shiprocket client the orchestrator
// uses.
type LogisticsClient interface {
	TestConnection(ctx context.Context) error
	Orders(ctx context.Context, fn func(shiprocket.Order) error) error
	Shipments(ctx context.Context, fn func(shiprocket.Shipment) error) error
	ShippingAnalytics(ctx context.Context, since, until time.Time) (*shiprocket.Analytics, error)
}

// RecordStore persists fetched records and the account sync stamp.
type RecordStore interface {
	Upsert(ctx context.Context, collection, accountID, provider, externalID string, fields models.JSONB) error
	SetLastSynced(ctx context.Context, accountID string, t time.Time) error
}

// ProgressTracker persists job progress between attempts.
type ProgressTracker interface {
	UpdateProgress(ctx context.Context, jobID string, percent int, message string) error
}

// Publisher fans progress events out to live subscribers.
type Publisher interface {
	Publish(ev progress.Event)
}

// SyncService runs one job: it walks the requested platforms in canonical
// order, streams each provider's data into the record store and assembles
// the per-platform results. A provider failure isolates to its platform;
// a store failure aborts the attempt.
type SyncService struct {
	records RecordStore
	jobs    ProgressTracker
	hub     Publisher
	logger  *zap.Logger

	newCommerce  func(creds models.ShopifyCredentials) CommerceClient
	newAds       func(creds models.MetaCredentials) AdsClient
	newLogistics func(creds models.ShiprocketCredentials) LogisticsClient
}

func NewSyncService(cfg *config.Config, records RecordStore, jobs ProgressTracker, hub Publisher, logger *zap.Logger) *SyncService {
	return &SyncService{
		records: records,
		jobs:    jobs,
		hub:     hub,
		logger:  logger,
		newCommerce: func(creds models.ShopifyCredentials) CommerceClient {
			return shopify.NewClient(creds.StoreURL, creds.AccessToken, cfg.ShopifyAPIVersion)
		},
		newAds: func(creds models.MetaCredentials) AdsClient {
			return meta.NewClient(creds.AccessToken, creds.AdAccountID,
				meta.WithBaseURL(cfg.MetaBaseURL))
		},
		newLogistics: func(creds models.ShiprocketCredentials) LogisticsClient {
			return shiprocket.NewClient(creds.Email, creds.Password,
				shiprocket.WithBaseURL(cfg.ShiprocketBaseURL),
				shiprocket.WithToken(creds.Token))
		},
	}
}

// Run executes one attempt of the job. The returned results are complete
// even when every platform failed; a non-nil error means the attempt was
// aborted by a fatal store failure and nothing terminal should be recorded
// yet.
func (s *SyncService) Run(ctx context.Context, job *models.SyncJob) (*models.SyncResults, error) {
	start := time.Now()
	platforms := orderedPlatforms(job.Platforms)
	results := &models.SyncResults{}

	s.report(ctx, job.ID, 0, "Starting data sync")

	for i, name := range platforms {
		s.logger.Info("platform sync starting",
			zap.String("job_id", job.ID),
			zap.String("platform", name))

		res, err := s.syncPlatform(ctx, job, name)
		if err != nil {
			return nil, err
		}
		results.SetPlatform(name, res)

		if res.Status == models.ResultStatusError {
			s.logger.Warn("platform sync failed",
				zap.String("job_id", job.ID),
				zap.String("platform", name),
				zap.String("error", res.Error))
			s.hub.Publish(progress.Event{
				Type:     progress.EventError,
				JobID:    job.ID,
				Progress: percentOf(i, len(platforms)),
				Platform: name,
				Error:    res.Error,
			})
		} else {
			s.logger.Info("platform sync finished",
				zap.String("job_id", job.ID),
				zap.String("platform", name),
				zap.Int("fetched", res.Fetched),
				zap.Int("written", res.Written))
		}

		s.report(ctx, job.ID, percentOf(i+1, len(platforms)),
			fmt.Sprintf("Synced %s", name))
	}

	end := time.Now()
	results.Summary = models.SyncSummary{
		TotalRecords: totalWritten(results, platforms),
		Errors:       collectErrors(results, platforms),
		StartTime:    start,
		EndTime:      end,
		DurationMS:   end.Sub(start).Milliseconds(),
	}

	if err := s.records.SetLastSynced(ctx, job.AccountID, end); err != nil {
		return nil, &FatalError{Err: fmt.Errorf("failed to stamp account sync state: %w", err)}
	}
	return results, nil
}

func (s *SyncService) syncPlatform(ctx context.Context, job *models.SyncJob, name string) (*models.PlatformResult, error) {
	switch name {
	case models.PlatformShopify:
		return s.syncShopify(ctx, job)
	case models.PlatformMeta:
		return s.syncMeta(ctx, job)
	case models.PlatformShiprocket:
		return s.syncShiprocket(ctx, job)
	}
	return errResult(fmt.Sprintf("unsupported platform: %s", name)), nil
}

func (s *SyncService) syncShopify(ctx context.Context, job *models.SyncJob) (*models.PlatformResult, error) {
	creds := job.Credentials.Shopify
	if !creds.IsConnected() {
		return errResult("shopify is not connected for this account"), nil
	}
	client := s.newCommerce(*creds)

	shop, err := client.TestConnection(ctx)
	if err != nil {
		return errResult(err.Error()), nil
	}

	res := &models.PlatformResult{Status: models.ResultStatusSuccess}

	err = client.Products(ctx, 0, func(p shopify.Product) error {
		res.Fetched++
		if err := s.upsert(ctx, "products", job.AccountID, models.PlatformShopify,
			strconv.FormatInt(p.ID, 10), productFields(p)); err != nil {
			return err
		}
		res.Written++
		return nil
	})
	if err != nil {
		return s.platformError(res, err)
	}

	err = client.Orders(ctx, 0, func(o shopify.Order) error {
		res.Fetched++
		if err := s.upsert(ctx, "orders", job.AccountID, models.PlatformShopify,
			strconv.FormatInt(o.ID, 10), orderFields(o)); err != nil {
			return err
		}
		res.Written++
		return nil
	})
	if err != nil {
		return s.platformError(res, err)
	}

	until := time.Now()
	analytics, err := client.Analytics(ctx, until.Add(-syncWindow), until)
	if err != nil {
		return s.platformError(res, err)
	}
	res.Fetched++
	if err := s.upsert(ctx, "commerce_analytics", job.AccountID, models.PlatformShopify,
		"last_30_days", analyticsFields(analytics)); err != nil {
		return nil, err
	}
	res.Written++

	res.Detail = models.JSONB{"shopName": shop.Name, "currency": shop.Currency}
	return res, nil
}

func (s *SyncService) syncMeta(ctx context.Context, job *models.SyncJob) (*models.PlatformResult, error) {
	creds := job.Credentials.Meta
	if !creds.IsConnected() {
		return errResult("meta is not connected for this account"), nil
	}
	client := s.newAds(*creds)

	user, err := client.TestConnection(ctx)
	if err != nil {
		return errResult(err.Error()), nil
	}

	until := time.Now()
	insights, err := client.AdInsights(ctx, until.Add(-syncWindow), until, nil)
	if err != nil {
		return errResult(err.Error()), nil
	}

	res := &models.PlatformResult{Status: models.ResultStatusSuccess}
	for _, in := range insights {
		res.Fetched++
		key := in.CampaignID + "_" + in.DateStart
		if err := s.upsert(ctx, "ad_insights", job.AccountID, models.PlatformMeta,
			key, insightFields(in)); err != nil {
			return nil, err
		}
		res.Written++
	}

	campaigns, err := client.Campaigns(ctx)
	if err != nil {
		return s.platformError(res, err)
	}
	for _, c := range campaigns {
		res.Fetched++
		if err := s.upsert(ctx, "campaigns", job.AccountID, models.PlatformMeta,
			c.ID, campaignFields(c)); err != nil {
			return nil, err
		}
		res.Written++
	}

	res.Detail = models.JSONB{"userId": user.ID, "userName": user.Name}
	return res, nil
}

func (s *SyncService) syncShiprocket(ctx context.Context, job *models.SyncJob) (*models.PlatformResult, error) {
	creds := job.Credentials.Shiprocket
	if !creds.IsConnected() {
		return errResult("shiprocket is not connected for this account"), nil
	}
	client := s.newLogistics(*creds)

	if err := client.TestConnection(ctx); err != nil {
		return errResult(err.Error()), nil
	}

	res := &models.PlatformResult{Status: models.ResultStatusSuccess}

	err := client.Orders(ctx, func(o shiprocket.Order) error {
		res.Fetched++
		if err := s.upsert(ctx, "shipping_orders", job.AccountID, models.PlatformShiprocket,
			strconv.FormatInt(o.ID, 10), shippingOrderFields(o)); err != nil {
			return err
		}
		res.Written++
		return nil
	})
	if err != nil {
		return s.platformError(res, err)
	}

	err = client.Shipments(ctx, func(sh shiprocket.Shipment) error {
		res.Fetched++
		if err := s.upsert(ctx, "shipments", job.AccountID, models.PlatformShiprocket,
			strconv.FormatInt(sh.ID, 10), shipmentFields(sh)); err != nil {
			return err
		}
		res.Written++
		return nil
	})
	if err != nil {
		return s.platformError(res, err)
	}

	until := time.Now()
	analytics, err := client.ShippingAnalytics(ctx, until.Add(-syncWindow), until)
	if err != nil {
		return s.platformError(res, err)
	}
	res.Fetched++
	if err := s.upsert(ctx, "shipping_analytics", job.AccountID, models.PlatformShiprocket,
		"last_30_days", shippingAnalyticsFields(analytics)); err != nil {
		return nil, err
	}
	res.Written++

	return res, nil
}

// upsert writes one record, wrapping store failures as fatal.
func (s *SyncService) upsert(ctx context.Context, collection, accountID, provider, externalID string, fields models.JSONB) error {
	if err := s.records.Upsert(ctx, collection, accountID, provider, externalID, fields); err != nil {
		return &FatalError{Err: fmt.Errorf("failed to store %s record: %w", collection, err)}
	}
	return nil
}

// platformError resolves an error bubbling out of a fetch stream. Fatal
// store failures propagate; provider failures close out the platform
// result, keeping the counts written so far.
func (s *SyncService) platformError(res *models.PlatformResult, err error) (*models.PlatformResult, error) {
	if IsFatal(err) {
		return nil, err
	}
	res.Status = models.ResultStatusError
	res.Error = err.Error()
	return res, nil
}

// report persists progress and notifies subscribers. Progress persistence
// failures are logged, not fatal: the job keeps running and the next
// update usually heals the row.
func (s *SyncService) report(ctx context.Context, jobID string, percent int, message string) {
	if err := s.jobs.UpdateProgress(ctx, jobID, percent, message); err != nil {
		s.logger.Warn("failed to persist progress",
			zap.String("job_id", jobID), zap.Error(err))
	}
	s.hub.Publish(progress.Event{
		Type:     progress.EventProgress,
		JobID:    jobID,
		Progress: percent,
		Message:  message,
	})
}

func errResult(msg string) *models.PlatformResult {
	return &models.PlatformResult{Status: models.ResultStatusError, Error: msg}
}

// orderedPlatforms filters the canonical order down to the requested set.
func orderedPlatforms(requested []string) []string {
	want := make(map[string]struct{}, len(requested))
	for _, p := range requested {
		want[p] = struct{}{}
	}
	var out []string
	for _, p := range models.AllPlatforms() {
		if _, ok := want[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func percentOf(done, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}

func totalWritten(results *models.SyncResults, platforms []string) int {
	total := 0
	for _, p := range platforms {
		if res := results.Platform(p); res != nil {
			total += res.Written
		}
	}
	return total
}

func collectErrors(results *models.SyncResults, platforms []string) []string {
	errs := []string{}
	for _, p := range platforms {
		res := results.Platform(p)
		if res != nil && res.Status == models.ResultStatusError {
			errs = append(errs, fmt.Sprintf("%s: %s", p, res.Error))
		}
	}
	return errs
}

func productFields(p shopify.Product) models.JSONB {
	variants := make([]map[string]interface{}, 0, len(p.Variants))
	for _, v := range p.Variants {
		variants = append(variants, map[string]interface{}{
			"id":                v.ID,
			"title":             v.Title,
			"price":             v.Price,
			"compareAtPrice":    v.CompareAtPrice,
			"sku":               v.SKU,
			"inventoryQuantity": v.InventoryQuantity,
		})
	}
	images := make([]string, 0, len(p.Images))
	for _, img := range p.Images {
		images = append(images, img.Src)
	}
	return models.JSONB{
		"title":       p.Title,
		"description": p.BodyHTML,
		"vendor":      p.Vendor,
		"productType": p.ProductType,
		"handle":      p.Handle,
		"status":      p.Status,
		"tags":        splitTags(p.Tags),
		"variants":    variants,
		"images":      images,
	}
}

func orderFields(o shopify.Order) models.JSONB {
	items := make([]map[string]interface{}, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		items = append(items, map[string]interface{}{
			"productId": li.ProductID,
			"title":     li.Title,
			"quantity":  li.Quantity,
			"price":     li.Price,
		})
	}
	return models.JSONB{
		"orderNumber":     o.OrderNumber,
		"totalPrice":      o.TotalPrice,
		"currency":        o.Currency,
		"financialStatus": o.FinancialStatus,
		"createdAt":       o.CreatedAt.Format(time.RFC3339),
		"lineItems":       items,
	}
}

func analyticsFields(a *shopify.Analytics) models.JSONB {
	return models.JSONB{
		"totalOrders":       a.TotalOrders,
		"totalRevenue":      a.TotalRevenue,
		"averageOrderValue": a.AverageOrderValue,
		"customerCount":     a.CustomerCount,
		"topProducts":       a.TopProducts,
	}
}

func insightFields(in meta.AdInsight) models.JSONB {
	return models.JSONB{
		"campaignId":   in.CampaignID,
		"campaignName": in.CampaignName,
		"impressions":  in.Impressions,
		"reach":        in.Reach,
		"clicks":       in.Clicks,
		"spend":        in.Spend,
		"cpm":          in.CPM,
		"cpc":          in.CPC,
		"ctr":          in.CTR,
		"dateStart":    in.DateStart,
		"dateStop":     in.DateStop,
	}
}

func campaignFields(c meta.Campaign) models.JSONB {
	return models.JSONB{
		"name":        c.Name,
		"status":      c.Status,
		"objective":   c.Objective,
		"createdTime": c.CreatedTime,
		"updatedTime": c.UpdatedTime,
	}
}

func shippingOrderFields(o shiprocket.Order) models.JSONB {
	return models.JSONB{
		"channelOrderId": o.ChannelOrderID,
		"customerName":   o.CustomerName,
		"status":         o.Status,
		"total":          o.Total,
		"createdAt":      o.CreatedAt,
	}
}

func shipmentFields(s shiprocket.Shipment) models.JSONB {
	return models.JSONB{
		"awb":             s.AWB,
		"status":          s.Status,
		"courierName":     s.CourierName,
		"shippingCharges": s.ShippingCharges,
		"createdAt":       s.CreatedAt,
	}
}

func shippingAnalyticsFields(a *shiprocket.Analytics) models.JSONB {
	return models.JSONB{
		"totalShipments":          a.TotalShipments,
		"deliveredShipments":      a.DeliveredShipments,
		"inTransitShipments":      a.InTransitShipments,
		"returnedShipments":       a.ReturnedShipments,
		"totalShippingCost":       a.TotalShippingCost,
		"courierPartnerBreakdown": a.CourierBreakdown,
		"deliveryPerformance":     a.DeliveryPerformance,
	}
}

func splitTags(tags string) []string {
	if tags == "" {
		return []string{}
	}
	parts := strings.Split(tags, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
