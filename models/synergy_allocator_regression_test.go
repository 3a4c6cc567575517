package models_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/resaleops/synergy_backend/config"
	"github.com/resaleops/synergy_backend/models"
	"github.com/resaleops/synergy_backend/utils"
	"github.com/shopspring/decimal"
)

// setupIntegrationEnv boots MySQL and Redis containers, points the config
// globals at them and migrates a fresh schema.
func setupIntegrationEnv(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "synergy_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	return utils.SetActorNameInContext(context.Background(), "integration-test")
}

func TestSynergyCounterRecoveryAndGuards(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	lapCat, err := models.CreateCategory(ctx, &models.NewCategory{Label: "Laptops", Prefix: "LAP"})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}

	// Scatter pre-existing codes across both tables: LAP-00001..4 on lines,
	// LAP-00005..7 on items, with no counter row at all.
	po := models.PurchaseOrder{PoNumber: "PO-LEGACY-1", VendorName: "Legacy Vendor"}
	if err := db.WithContext(ctx).Create(&po).Error; err != nil {
		t.Fatalf("create po: %v", err)
	}
	var lines []models.PoLine
	for i := 1; i <= 4; i++ {
		code := fmt.Sprintf("LAP-%05d", i)
		line := models.PoLine{
			PurchaseOrderId: po.ID,
			ProductNameRaw:  fmt.Sprintf("Legacy laptop %d", i),
			Qty:             1,
			CategoryGuess:   &lapCat.ID,
			SynergyId:       &code,
		}
		if err := db.WithContext(ctx).Create(&line).Error; err != nil {
			t.Fatalf("create line %d: %v", i, err)
		}
		lines = append(lines, line)
	}
	for i := 5; i <= 7; i++ {
		item := models.InventoryItem{
			SynergyCode:     fmt.Sprintf("LAP-%05d", i),
			PurchaseOrderId: po.ID,
			PoLineId:        lines[0].ID,
			CategoryId:      lapCat.ID,
			Status:          models.ItemStatusIntake,
			Specs:           json.RawMessage(`{}`),
		}
		if err := db.WithContext(ctx).Create(&item).Error; err != nil {
			t.Fatalf("create item %d: %v", i, err)
		}
	}

	// First allocation must scan both tables and continue after the max.
	code, err := models.TakeSynergyCode(ctx, "LAP")
	if err != nil {
		t.Fatalf("TakeSynergyCode: %v", err)
	}
	if code != "LAP-00008" {
		t.Fatalf("expected LAP-00008 after recovery; got %s", code)
	}
	next, err := models.GetCurrentNextSeq(db.WithContext(ctx), "LAP")
	if err != nil {
		t.Fatalf("GetCurrentNextSeq: %v", err)
	}
	if next != 9 {
		t.Fatalf("expected next_seq=9 after recovery take; got %d", next)
	}

	// Peek is advisory and must not advance anything.
	peeked, err := models.PeekNextSynergyCode(ctx, "LAP")
	if err != nil {
		t.Fatalf("PeekNextSynergyCode: %v", err)
	}
	if peeked != "LAP-00009" {
		t.Fatalf("expected peek LAP-00009; got %s", peeked)
	}
	if n, _ := models.GetCurrentNextSeq(db.WithContext(ctx), "LAP"); n != 9 {
		t.Fatalf("peek advanced the counter to %d", n)
	}

	// Manual override below the safe floor is rejected, not clamped.
	err = models.ManualSetNext(ctx, "LAP", 5, "admin", "testing the guard")
	var unsafeErr *models.UnsafeNextSeqError
	if !errors.As(err, &unsafeErr) {
		t.Fatalf("expected UnsafeNextSeqError; got %v", err)
	}
	if unsafeErr.SafeNext != 9 {
		t.Fatalf("expected SafeNext=9; got %d", unsafeErr.SafeNext)
	}
	if n, _ := models.GetCurrentNextSeq(db.WithContext(ctx), "LAP"); n != 9 {
		t.Fatalf("rejected override changed the counter to %d", n)
	}

	// A safe override sticks and is audit-logged.
	if err := models.ManualSetNext(ctx, "LAP", 50, "admin", "skipping a reserved block"); err != nil {
		t.Fatalf("ManualSetNext(50): %v", err)
	}
	if n, _ := models.GetCurrentNextSeq(db.WithContext(ctx), "LAP"); n != 50 {
		t.Fatalf("expected next_seq=50 after override; got %d", n)
	}
	events, err := models.ListSynergyEvents(ctx, models.SynergyEventFilter{Prefix: "LAP"})
	if err != nil {
		t.Fatalf("ListSynergyEvents: %v", err)
	}
	foundOverride := false
	for _, e := range events {
		if e.EventType == models.SynergyEventManualSetNext && e.Seq == 50 {
			foundOverride = true
			var meta map[string]any
			if err := json.Unmarshal(e.Meta, &meta); err != nil {
				t.Fatalf("decode override meta: %v", err)
			}
			if meta["reason"] != "skipping a reserved block" {
				t.Fatalf("override meta missing reason: %v", meta)
			}
		}
	}
	if !foundOverride {
		t.Fatalf("manual override not found in audit log")
	}

	// After the override the floor is the counter itself, not the data max.
	err = models.ManualSetNext(ctx, "LAP", 20, "admin", "trying to move backwards")
	if !errors.As(err, &unsafeErr) || unsafeErr.SafeNext != 50 {
		t.Fatalf("expected SafeNext=50 on second rejection; got %v", err)
	}

	// Reset recomputes the floor from the data tables. LAP-00008 was taken
	// but never attached to a line or item, so the data max is still 7.
	safeNext, err := models.ResetPrefixToDefault(ctx, "LAP", "admin")
	if err != nil {
		t.Fatalf("ResetPrefixToDefault: %v", err)
	}
	if safeNext != 8 {
		t.Fatalf("expected reset to 8 (max data code is LAP-00007); got %d", safeNext)
	}

	// Deleting a PO never rewinds the counter; freed numbers stay burned.
	if err := models.DeletePurchaseOrder(ctx, po.ID); err != nil {
		t.Fatalf("DeletePurchaseOrder: %v", err)
	}
	if n, _ := models.GetCurrentNextSeq(db.WithContext(ctx), "LAP"); n != 8 {
		t.Fatalf("delete rewound the counter to %d", n)
	}
	code, err = models.TakeSynergyCode(ctx, "LAP")
	if err != nil {
		t.Fatalf("TakeSynergyCode after delete: %v", err)
	}
	if code != "LAP-00008" {
		t.Fatalf("expected LAP-00008 after delete (counter preserved); got %s", code)
	}
}

func TestSynergyCodeConcurrentAllocation(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	db := config.GetDB()

	// Seed the counter row with one serial allocation; the concurrent phase
	// then exercises the row lock rather than the first-touch seeding.
	first, err := models.TakeSynergyCode(ctx, "CONC")
	if err != nil {
		t.Fatalf("seed TakeSynergyCode: %v", err)
	}
	if first != "CONC-00001" {
		t.Fatalf("expected CONC-00001; got %s", first)
	}

	const workers = 16
	codesCh := make(chan string, workers)
	errCh := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := models.TakeSynergyCode(ctx, "CONC")
			if err != nil {
				errCh <- err
				return
			}
			codesCh <- code
		}()
	}
	wg.Wait()
	close(codesCh)
	close(errCh)

	for err := range errCh {
		t.Fatalf("concurrent TakeSynergyCode: %v", err)
	}

	seen := make(map[string]bool)
	var seqs []int64
	for code := range codesCh {
		if seen[code] {
			t.Fatalf("duplicate code issued: %s", code)
		}
		seen[code] = true
		seq, err := models.ParseSynergyCodeSeq(code)
		if err != nil {
			t.Fatalf("parse %s: %v", code, err)
		}
		seqs = append(seqs, seq)
	}
	if len(seen) != workers {
		t.Fatalf("expected %d distinct codes; got %d", workers, len(seen))
	}

	// The issued block is dense: 2..workers+1, counter parked one past it.
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, seq := range seqs {
		if seq != int64(i+2) {
			t.Fatalf("expected dense sequence block; got %v", seqs)
		}
	}
	next, err := models.GetCurrentNextSeq(db, "CONC")
	if err != nil {
		t.Fatalf("GetCurrentNextSeq: %v", err)
	}
	if next != int64(workers+2) {
		t.Fatalf("expected next_seq=%d; got %d", workers+2, next)
	}
}

func TestPreviewMintExplodeLifecycle(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	db := config.GetDB()

	genCat, err := models.CreateCategory(ctx, &models.NewCategory{Label: "General", Prefix: "GEN"})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}

	po, err := models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		PoNumber:   "PO-2024-0001",
		VendorName: "Pallet Liquidators",
		Lines: []models.NewPoLine{
			{
				ProductNameRaw: "Keyboard lot",
				Qty:            2,
				UnitCost:       decimal.NewFromInt(5),
				CategoryGuess:  "General",
				RawJson:        json.RawMessage(`{"specs": {"layout": "US"}, "item_notes": "shrink-wrapped"}`),
			},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseOrder: %v", err)
	}

	// Separate insert so created_at ordering between the two lines is stable
	// at millisecond timestamp resolution.
	time.Sleep(50 * time.Millisecond)
	moreLines, err := models.AddPoLines(ctx, po.ID, []models.NewPoLine{
		{ProductNameRaw: "Mouse lot", Qty: 3, UnitCost: decimal.NewFromInt(3), CategoryGuess: "GEN"},
	})
	if err != nil {
		t.Fatalf("AddPoLines: %v", err)
	}
	line1 := po.Lines[0]
	line2 := moreLines[0]

	// Preview: both lines draw from one in-memory sequence, nothing persists.
	previews, err := models.PreviewSynergyCodes(ctx, po.ID, []uuid.UUID{line1.ID, line2.ID})
	if err != nil {
		t.Fatalf("PreviewSynergyCodes: %v", err)
	}
	if len(previews) != 2 {
		t.Fatalf("expected 2 previews; got %d", len(previews))
	}
	wantPreview := [][]string{
		{"GEN-00001", "GEN-00002"},
		{"GEN-00003", "GEN-00004", "GEN-00005"},
	}
	for i, want := range wantPreview {
		if got := previews[i].Codes; !equalStrings(got, want) {
			t.Fatalf("preview line %d: expected %v; got %v", i+1, want, got)
		}
	}
	if n, _ := models.GetCurrentNextSeq(db.WithContext(ctx), "GEN"); n != 0 {
		t.Fatalf("preview created a counter row (next_seq=%d)", n)
	}

	// Mint assigns one line-level code per line, in creation order.
	updated, err := models.MintSynergyIds(ctx, po.ID, nil, false)
	if err != nil {
		t.Fatalf("MintSynergyIds: %v", err)
	}
	if updated != 2 {
		t.Fatalf("expected 2 minted lines; got %d", updated)
	}
	reloaded, err := models.GetPurchaseOrder(ctx, po.ID)
	if err != nil {
		t.Fatalf("GetPurchaseOrder: %v", err)
	}
	mintedByLine := map[string]string{}
	for _, l := range reloaded.Lines {
		if l.SynergyId != nil {
			mintedByLine[l.ProductNameRaw] = *l.SynergyId
		}
	}
	if mintedByLine["Keyboard lot"] != "GEN-00001" || mintedByLine["Mouse lot"] != "GEN-00002" {
		t.Fatalf("unexpected minted line codes: %v", mintedByLine)
	}

	// Re-mint without overwrite is a no-op.
	updated, err = models.MintSynergyIds(ctx, po.ID, nil, false)
	if err != nil {
		t.Fatalf("re-mint: %v", err)
	}
	if updated != 0 {
		t.Fatalf("re-mint touched %d lines", updated)
	}

	// Explode: the first unit of each line reuses the unconsumed line code,
	// the rest allocate fresh. Final item codes are exactly GEN-00001..00005.
	result, err := models.ExplodeByLine(ctx, po.ID)
	if err != nil {
		t.Fatalf("ExplodeByLine: %v", err)
	}
	if result.Created != 5 || result.Skipped != 0 || result.State != models.ExplodeStateDone {
		t.Fatalf("unexpected explode result: %+v", result)
	}
	var items []models.InventoryItem
	if err := db.WithContext(ctx).Where("purchase_order_id = ?", po.ID).Order("synergy_code ASC").Find(&items).Error; err != nil {
		t.Fatalf("fetch items: %v", err)
	}
	var gotCodes []string
	for _, item := range items {
		gotCodes = append(gotCodes, item.SynergyCode)
		if item.Status != models.ItemStatusIntake {
			t.Fatalf("item %s created with status %s", item.SynergyCode, item.Status)
		}
		if item.CategoryId != genCat.ID {
			t.Fatalf("item %s has wrong category", item.SynergyCode)
		}
	}
	wantCodes := []string{"GEN-00001", "GEN-00002", "GEN-00003", "GEN-00004", "GEN-00005"}
	if !equalStrings(gotCodes, wantCodes) {
		t.Fatalf("expected item codes %v; got %v", wantCodes, gotCodes)
	}

	// Line payload is copied onto every unit of that line.
	for _, item := range items {
		if item.PoLineId != line1.ID {
			continue
		}
		if item.TesterComment == nil || *item.TesterComment != "shrink-wrapped" {
			t.Fatalf("item %s missing line payload comment", item.SynergyCode)
		}
	}

	// Idempotent: a second explosion creates nothing.
	result, err = models.ExplodeByLine(ctx, po.ID)
	if err != nil {
		t.Fatalf("re-explode: %v", err)
	}
	if result.Created != 0 || result.State != models.ExplodeStateAlready {
		t.Fatalf("re-explode was not idempotent: %+v", result)
	}
	var count int64
	if err := db.WithContext(ctx).Model(&models.InventoryItem{}).Where("purchase_order_id = ?", po.ID).Count(&count).Error; err != nil {
		t.Fatalf("count items: %v", err)
	}
	if count != 5 {
		t.Fatalf("expected 5 items after re-explode; got %d", count)
	}

	stats, err := models.GetMintStats(ctx, po.ID)
	if err != nil {
		t.Fatalf("GetMintStats: %v", err)
	}
	if stats.TotalQty != 5 || stats.Minted != 5 || stats.Pending != 0 {
		t.Fatalf("unexpected mint stats: %+v", stats)
	}

	// Counter parked strictly past every issued code.
	next, err := models.GetCurrentNextSeq(db.WithContext(ctx), "GEN")
	if err != nil {
		t.Fatalf("GetCurrentNextSeq: %v", err)
	}
	if next != 6 {
		t.Fatalf("expected next_seq=6; got %d", next)
	}
}

func TestExplodeToleratesUncategorizedLines(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	db := config.GetDB()

	if _, err := models.CreateCategory(ctx, &models.NewCategory{Label: "Phones", Prefix: "PHN"}); err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}

	po, err := models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		PoNumber: "PO-MIXED-1",
		Lines: []models.NewPoLine{
			{ProductNameRaw: "iPhone 12", Qty: 2, CategoryGuess: "PHN"},
			{ProductNameRaw: "Mystery pallet leftovers", Qty: 3},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseOrder: %v", err)
	}

	result, err := models.ExplodeByLine(ctx, po.ID)
	if err != nil {
		t.Fatalf("ExplodeByLine: %v", err)
	}
	if result.Created != 2 || result.Skipped != 3 || result.State != models.ExplodeStatePartial {
		t.Fatalf("unexpected explode result: %+v", result)
	}

	// The uncategorized line can still be exploded later as a group under an
	// explicit prefix.
	created, err := models.ExplodeGroup(ctx, po.ID, nil, "GEN")
	if err != nil {
		t.Fatalf("ExplodeGroup: %v", err)
	}
	if created != 3 {
		t.Fatalf("expected 3 group-exploded items; got %d", created)
	}
	var count int64
	if err := db.WithContext(ctx).Model(&models.InventoryItem{}).Where("purchase_order_id = ?", po.ID).Count(&count).Error; err != nil {
		t.Fatalf("count items: %v", err)
	}
	if count != 5 {
		t.Fatalf("expected 5 items total; got %d", count)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("synergy-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("synergy-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=synergy_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
