package postgres_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/farmgoods/internal/apperr"
	"github.com/ariefcatur/farmgoods/internal/auth"
	"github.com/ariefcatur/farmgoods/internal/orders"
	"github.com/ariefcatur/farmgoods/internal/otp"
	"github.com/ariefcatur/farmgoods/internal/postgres"
	"github.com/ariefcatur/farmgoods/internal/pricing"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Run with FARMGOODS_INTEGRATION=1; needs a Docker daemon.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("FARMGOODS_INTEGRATION") != "1" {
		t.Skip("set FARMGOODS_INTEGRATION=1 to run Postgres integration tests")
	}
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, postgres.Migrate(dsn))
	// second run is a no-op
	require.NoError(t, postgres.Migrate(dsn))

	pool, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func seedUser(t *testing.T, db *pgxpool.Pool, email string) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, auth.InsertUser(context.Background(), db, auth.User{
		ID: id, FullName: "Budi", Email: email, PasswordHash: "x", Role: auth.RoleCustomer, CreatedAt: time.Now(),
	}))
	return id
}

func seedProduct(t *testing.T, db *pgxpool.Pool, price string, stock int) string {
	t.Helper()
	id := uuid.NewString()
	_, err := db.Exec(context.Background(),
		`INSERT INTO products(id, name, unit_price, stock_quantity, is_available) VALUES ($1, 'Rice', $2::numeric, $3, true)`,
		id, price, stock)
	require.NoError(t, err)
	return id
}

func stock(t *testing.T, db *pgxpool.Pool, id string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(context.Background(), `SELECT stock_quantity FROM products WHERE id=$1`, id).Scan(&n))
	return n
}

func TestRepo_PlaceSettleRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	customer := seedUser(t, db, "budi@farm.id")
	pid := seedProduct(t, db, "12.50", 30)
	_, err := db.Exec(ctx, `INSERT INTO carts(customer_id, product_id, quantity) VALUES ($1, $2, 3)`, customer, pid)
	require.NoError(t, err)

	svc := &orders.Service{Store: &orders.Repo{DB: db}, Policy: pricing.DefaultPolicy()}
	pl, err := svc.PlaceOrder(ctx, orders.PlaceOrderInput{
		CustomerID:      customer,
		Items:           []orders.ItemInput{{ProductID: pid, Quantity: 12}},
		DeliveryAddress: "Jl. Padi 4",
		PaymentMethod:   orders.MethodCard,
		IdempotencyKey:  "k-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 18, stock(t, db, pid))

	got, err := svc.GetOrder(ctx, pl.Order.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	assert.True(t, got.Lines[0].ChargedPrice.Equal(decimal.RequireFromString("11.25")))
	assert.True(t, got.NetAmount.Equal(decimal.RequireFromString("135")))

	again, err := svc.PlaceOrder(ctx, orders.PlaceOrderInput{
		CustomerID:      customer,
		Items:           []orders.ItemInput{{ProductID: pid, Quantity: 12}},
		DeliveryAddress: "Jl. Padi 4",
		PaymentMethod:   orders.MethodCard,
		IdempotencyKey:  "k-1",
	})
	require.NoError(t, err)
	assert.True(t, again.Existed)
	assert.Equal(t, 18, stock(t, db, pid))

	s, err := svc.Settle(ctx, orders.SettleInput{OrderID: pl.Order.ID})
	require.NoError(t, err)
	assert.True(t, s.Payment.Amount.Equal(decimal.RequireFromString("135")))
	_, err = svc.Settle(ctx, orders.SettleInput{OrderID: pl.Order.ID})
	assert.ErrorIs(t, err, apperr.ErrAlreadyPaid)

	var carts int
	require.NoError(t, db.QueryRow(ctx, `SELECT count(*) FROM carts WHERE customer_id=$1`, customer).Scan(&carts))
	assert.Zero(t, carts)
}

func TestRepo_ConcurrentPlacementsNeverOversell(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	customer := seedUser(t, db, "rush@farm.id")
	pid := seedProduct(t, db, "1", 5)
	svc := &orders.Service{Store: &orders.Repo{DB: db}, Policy: pricing.DefaultPolicy()}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		okN  int
		errs []error
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PlaceOrder(ctx, orders.PlaceOrderInput{
				CustomerID:      customer,
				Items:           []orders.ItemInput{{ProductID: pid, Quantity: 1}},
				DeliveryAddress: "Jl. Ramai",
				PaymentMethod:   orders.MethodCashOnDelivery,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				okN++
			} else {
				errs = append(errs, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, okN)
	for _, err := range errs {
		assert.True(t, errors.Is(err, apperr.ErrInsufficientStock), err)
	}
	assert.Zero(t, stock(t, db, pid))
}

func TestRepo_OTPRegistrationAndReset(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	issuer, err := auth.NewIssuer("0123456789abcdef0123456789abcdef", time.Hour, time.Hour)
	require.NoError(t, err)

	codes := []string{"123456", "654321", "111222"}
	var next int
	engine := &otp.Engine{
		Store:  &otp.Repo{DB: db},
		Issuer: issuer,
		Codes: func() (string, error) {
			c := codes[next]
			next++
			return c, nil
		},
	}

	req := otp.RegistrationRequest{Email: "new@farm.id", FullName: "Nina", Password: "kebun-sayur"}
	require.NoError(t, engine.RequestRegistration(ctx, req))
	require.NoError(t, engine.RequestRegistration(ctx, req))

	_, err = engine.Verify(ctx, "new@farm.id", "123456", otp.FlowRegistration)
	assert.ErrorIs(t, err, apperr.ErrInvalidCode)
	v, err := engine.Verify(ctx, "new@farm.id", "654321", otp.FlowRegistration)
	require.NoError(t, err)
	require.NotNil(t, v.Session)

	u, err := (&auth.Repo{DB: db}).FindUserByEmail(ctx, "NEW@farm.id")
	require.NoError(t, err)
	assert.Equal(t, "Nina", u.FullName)

	require.NoError(t, engine.RequestPasswordReset(ctx, "new@farm.id"))
	v, err = engine.Verify(ctx, "new@farm.id", "111222", otp.FlowPasswordReset)
	require.NoError(t, err)
	require.NoError(t, engine.ResetPassword(ctx, "new@farm.id", v.ResetToken, "kebun-buah-2"))

	u, err = (&auth.Repo{DB: db}).FindUserByEmail(ctx, "new@farm.id")
	require.NoError(t, err)
	assert.True(t, auth.ComparePassword(u.PasswordHash, "kebun-buah-2"))
}
