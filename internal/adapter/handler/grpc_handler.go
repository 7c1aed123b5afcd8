package handler

import (
	"context"

	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/kit-ledger/internal/core/domain"
	"github.com/rl1809/kit-ledger/internal/logger"
	"github.com/rl1809/kit-ledger/internal/tracing"
)

const ledgerServiceName = "ledger.v1.LedgerService"

type OrderActionRequest struct {
	OrderID string `json:"orderId"`
}

type DecrementStockRequest struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Amount    int    `json:"amount"`
}

type GetStockRequest struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
}

// LedgerResponse reports business outcomes in-band, like the storefront API:
// a rejected order or action is Success=false with a Message, not an RPC error.
type LedgerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	OrderID string `json:"orderId,omitempty"`
	Total   string `json:"total,omitempty"`
}

type StockResponse struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Stock     int    `json:"stock"`
}

// LedgerServer is the server API of ledger.v1.LedgerService.
type LedgerServer interface {
	PlaceOrder(context.Context, *PlaceOrderRequest) (*LedgerResponse, error)
	TakeOrder(context.Context, *OrderActionRequest) (*LedgerResponse, error)
	DeliverOrder(context.Context, *OrderActionRequest) (*LedgerResponse, error)
	RevertOrder(context.Context, *OrderActionRequest) (*LedgerResponse, error)
	DecrementStock(context.Context, *DecrementStockRequest) (*LedgerResponse, error)
	GetStock(context.Context, *GetStockRequest) (*StockResponse, error)
}

func unary[Req, Resp any](method string, call func(LedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ledgerServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ledgerServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("PlaceOrder", LedgerServer.PlaceOrder),
		unary("TakeOrder", LedgerServer.TakeOrder),
		unary("DeliverOrder", LedgerServer.DeliverOrder),
		unary("RevertOrder", LedgerServer.RevertOrder),
		unary("DecrementStock", LedgerServer.DecrementStock),
		unary("GetStock", LedgerServer.GetStock),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/ledger.proto",
}

func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

type GRPCHandler struct {
	orders    OrderServicer
	lifecycle LifecycleServicer
	inventory InventoryServicer
}

func NewGRPCHandler(orders OrderServicer, lifecycle LifecycleServicer, inventory InventoryServicer) *GRPCHandler {
	return &GRPCHandler{orders: orders, lifecycle: lifecycle, inventory: inventory}
}

func (h *GRPCHandler) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*LedgerResponse, error) {
	order, err := h.orders.PlaceOrder(ctx, req.toDomain())
	if err != nil {
		return rejection(ctx, err)
	}
	return &LedgerResponse{
		Success: true,
		Message: "order placed successfully",
		OrderID: order.ID,
		Total:   order.Total.String(),
	}, nil
}

func (h *GRPCHandler) TakeOrder(ctx context.Context, req *OrderActionRequest) (*LedgerResponse, error) {
	return h.action(ctx, req.OrderID, h.lifecycle.Take)
}

func (h *GRPCHandler) DeliverOrder(ctx context.Context, req *OrderActionRequest) (*LedgerResponse, error) {
	return h.action(ctx, req.OrderID, h.lifecycle.Deliver)
}

func (h *GRPCHandler) RevertOrder(ctx context.Context, req *OrderActionRequest) (*LedgerResponse, error) {
	return h.action(ctx, req.OrderID, h.lifecycle.Revert)
}

func (h *GRPCHandler) action(ctx context.Context, orderID string, fn func(context.Context, string) error) (*LedgerResponse, error) {
	if err := fn(ctx, orderID); err != nil {
		return rejection(ctx, err)
	}
	return &LedgerResponse{Success: true, OrderID: orderID}, nil
}

func (h *GRPCHandler) DecrementStock(ctx context.Context, req *DecrementStockRequest) (*LedgerResponse, error) {
	applied, err := h.inventory.Decrement(ctx, req.ProductID, req.Size, req.Amount)
	if err != nil {
		return rejection(ctx, err)
	}
	if !applied {
		return &LedgerResponse{Success: false, Message: "insufficient stock"}, nil
	}
	return &LedgerResponse{Success: true}, nil
}

func (h *GRPCHandler) GetStock(ctx context.Context, req *GetStockRequest) (*StockResponse, error) {
	stock, err := h.inventory.Stock(ctx, req.ProductID, req.Size)
	if err != nil {
		return nil, status.Error(grpcCode(err), err.Error())
	}
	return &StockResponse{ProductID: req.ProductID, Size: req.Size, Stock: stock}, nil
}

// rejection turns domain errors into an unsuccessful response. Anything else
// is an internal RPC error.
func rejection(ctx context.Context, err error) (*LedgerResponse, error) {
	if grpcCode(err) == codes.Internal {
		zlog.Ctx(ctx).Error().Err(err).Msg("rpc failed")
		return nil, status.Error(codes.Internal, "internal error")
	}
	return &LedgerResponse{Success: false, Message: err.Error()}, nil
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrInsufficientStock):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrDuplicateRequest):
		return codes.AlreadyExists
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return codes.Aborted
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrStockUnitNotFound):
		return codes.NotFound
	}
	return codes.Internal
}

// UnaryInterceptor gives every call a span and a request-scoped logger.
func UnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx, span := tracing.Start(ctx, info.FullMethod)
	defer span.End()

	fields := map[string]string{"rpc": info.FullMethod}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			fields["request_id"] = ids[0]
		}
	}
	ctx = logger.WithTrace(ctx, fields)

	resp, err := handler(ctx, req)
	if err != nil {
		zlog.Ctx(ctx).Warn().Err(err).Msg("rpc returned error")
	}
	return resp, err
}

// LedgerClient calls ledger.v1.LedgerService over the JSON codec.
type LedgerClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerClient(cc grpc.ClientConnInterface) *LedgerClient {
	return &LedgerClient{cc: cc}
}

func (c *LedgerClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ledgerServiceName+"/"+method, in, out, opts...)
}

func (c *LedgerClient) PlaceOrder(ctx context.Context, in *PlaceOrderRequest, opts ...grpc.CallOption) (*LedgerResponse, error) {
	out := new(LedgerResponse)
	return out, c.invoke(ctx, "PlaceOrder", in, out, opts...)
}

func (c *LedgerClient) TakeOrder(ctx context.Context, in *OrderActionRequest, opts ...grpc.CallOption) (*LedgerResponse, error) {
	out := new(LedgerResponse)
	return out, c.invoke(ctx, "TakeOrder", in, out, opts...)
}

func (c *LedgerClient) DeliverOrder(ctx context.Context, in *OrderActionRequest, opts ...grpc.CallOption) (*LedgerResponse, error) {
	out := new(LedgerResponse)
	return out, c.invoke(ctx, "DeliverOrder", in, out, opts...)
}

func (c *LedgerClient) RevertOrder(ctx context.Context, in *OrderActionRequest, opts ...grpc.CallOption) (*LedgerResponse, error) {
	out := new(LedgerResponse)
	return out, c.invoke(ctx, "RevertOrder", in, out, opts...)
}

func (c *LedgerClient) DecrementStock(ctx context.Context, in *DecrementStockRequest, opts ...grpc.CallOption) (*LedgerResponse, error) {
	out := new(LedgerResponse)
	return out, c.invoke(ctx, "DecrementStock", in, out, opts...)
}

func (c *LedgerClient) GetStock(ctx context.Context, in *GetStockRequest, opts ...grpc.CallOption) (*StockResponse, error) {
	out := new(StockResponse)
	return out, c.invoke(ctx, "GetStock", in, out, opts...)
}
