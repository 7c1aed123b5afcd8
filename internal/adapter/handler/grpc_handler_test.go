package handler

import (
	"context"
	"net"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/kit-ledger/internal/core/domain"
)

type grpcTestEnv struct {
	orders    *stubOrders
	lifecycle *stubLifecycle
	inventory *stubInventory
	client    *LedgerClient
	conn      *grpc.ClientConn
}

func newGRPCTestEnv(t *testing.T) *grpcTestEnv {
	t.Helper()
	env := &grpcTestEnv{
		orders:    &stubOrders{},
		lifecycle: &stubLifecycle{},
		inventory: &stubInventory{stock: map[domain.StockKey]int{{ProductID: "P1", Size: "M"}: 4}},
	}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryInterceptor))
	RegisterLedgerServer(srv, NewGRPCHandler(env.orders, env.lifecycle, env.inventory))
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	env.conn = conn
	env.client = NewLedgerClient(conn)
	return env
}

func TestGRPC_PlaceOrder(t *testing.T) {
	env := newGRPCTestEnv(t)

	resp, err := env.client.PlaceOrder(context.Background(), &PlaceOrderRequest{
		RequestID: "req-1",
		Customer:  CustomerRequest{Name: "Ana", Email: "ana@example.com"},
		Items: []LineRequest{{
			ProductID: "P1",
			Quantity:  1,
			Size:      "M",
			UnitPrice: decimal.NewFromInt(10000),
			Category:  string(domain.CategoryImmediate),
		}},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "order-1", resp.OrderID)
	assert.Equal(t, "10000", resp.Total)

	require.Len(t, env.orders.placed, 1)
	assert.Equal(t, "req-1", env.orders.placed[0].RequestID)
}

func TestGRPC_PlaceOrderRejected(t *testing.T) {
	env := newGRPCTestEnv(t)
	env.orders.err = &domain.InsufficientStockError{ProductID: "P1", Size: "M", Requested: 2, Available: 1}

	resp, err := env.client.PlaceOrder(context.Background(), &PlaceOrderRequest{})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "insufficient stock")
}

func TestGRPC_PlaceOrderInternalError(t *testing.T) {
	env := newGRPCTestEnv(t)
	env.orders.err = assert.AnError

	_, err := env.client.PlaceOrder(context.Background(), &PlaceOrderRequest{})
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestGRPC_OrderActions(t *testing.T) {
	env := newGRPCTestEnv(t)
	ctx := context.Background()

	resp, err := env.client.TakeOrder(ctx, &OrderActionRequest{OrderID: "o1"})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	resp, err = env.client.DeliverOrder(ctx, &OrderActionRequest{OrderID: "o1"})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	env.lifecycle.err = &domain.TransitionError{OrderID: "o1", Action: domain.ActionRevert, Current: domain.OrderStatusDeclined}
	resp, err = env.client.RevertOrder(ctx, &OrderActionRequest{OrderID: "o1"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "order already declined")

	assert.Equal(t, []string{"take:o1", "deliver:o1", "revert:o1"}, env.lifecycle.calls)
}

func TestGRPC_DecrementStock(t *testing.T) {
	env := newGRPCTestEnv(t)
	ctx := context.Background()

	resp, err := env.client.DecrementStock(ctx, &DecrementStockRequest{ProductID: "P1", Size: "M", Amount: 9})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "insufficient stock", resp.Message)

	env.inventory.applied = true
	resp, err = env.client.DecrementStock(ctx, &DecrementStockRequest{ProductID: "P1", Size: "M", Amount: 1})
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestGRPC_GetStock(t *testing.T) {
	env := newGRPCTestEnv(t)
	ctx := context.Background()

	resp, err := env.client.GetStock(ctx, &GetStockRequest{ProductID: "P1", Size: "M"})
	require.NoError(t, err)
	assert.Equal(t, 4, resp.Stock)

	_, err = env.client.GetStock(ctx, &GetStockRequest{ProductID: "P1", Size: "XS"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPC_Health(t *testing.T) {
	env := newGRPCTestEnv(t)

	resp, err := healthpb.NewHealthClient(env.conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
