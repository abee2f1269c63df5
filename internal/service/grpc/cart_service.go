package grpcsvc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vladislavdragonenkov/cart/internal/cart"
	"github.com/vladislavdragonenkov/cart/internal/domain"
	"github.com/vladislavdragonenkov/cart/internal/money"
)

const (
	// ServiceName: полное имя gRPC-сервиса корзины.
	ServiceName = "cart.v1.CartService"

	MethodGetCart    = "/" + ServiceName + "/GetCart"
	MethodAddItem    = "/" + ServiceName + "/AddItem"
	MethodIncrement  = "/" + ServiceName + "/Increment"
	MethodDecrement  = "/" + ServiceName + "/Decrement"
	MethodRemoveItem = "/" + ServiceName + "/RemoveItem"
	MethodWatchCart  = "/" + ServiceName + "/WatchCart"

	// Op первого сообщения WatchCart: текущее состояние на момент подписки.
	WatchOpSnapshot = "snapshot"

	defaultWatchBuffer = 16
)

// CartServiceServer: серверная часть cart.v1.CartService.
type CartServiceServer interface {
	GetCart(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	AddItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Increment(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Decrement(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	RemoveItem(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	WatchCart(*emptypb.Empty, grpc.ServerStream) error
}

// CartService реализует gRPC API поверх корзины из контекста запроса.
// Корзину кладут в контекст ScopeUnaryInterceptor/ScopeStreamInterceptor.
type CartService struct {
	logger      *log.Entry
	watchBuffer int
}

// NewCartService конструирует сервис.
func NewCartService(logger *log.Entry) *CartService {
	if logger == nil {
		logger = log.New().WithField("component", "cart-service")
	}
	return &CartService{
		logger:      logger,
		watchBuffer: defaultWatchBuffer,
	}
}

// RegisterCartServiceServer регистрирует сервис на gRPC-сервере.
func RegisterCartServiceServer(registrar grpc.ServiceRegistrar, srv CartServiceServer) {
	registrar.RegisterService(&CartServiceDesc, srv)
}

// GetCart возвращает текущее состояние корзины.
func (s *CartService) GetCart(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	store, err := storeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.cartResponse(store.Items(), true)
}

// AddItem кладёт товар в корзину. Повторное добавление ничего не меняет.
func (s *CartService) AddItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	store, err := storeFromContext(ctx)
	if err != nil {
		return nil, err
	}

	product, err := productFromStruct(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid product: %v", err)
	}

	return s.applyMutation(ctx, store, "add", product.ID, func() error {
		return store.Add(ctx, product)
	})
}

// Increment увеличивает количество позиции.
func (s *CartService) Increment(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.mutateByID(ctx, req, "increment", (*cart.Store).Increment)
}

// Decrement уменьшает количество позиции, не опуская его ниже 1.
func (s *CartService) Decrement(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.mutateByID(ctx, req, "decrement", (*cart.Store).Decrement)
}

// RemoveItem удаляет позицию.
func (s *CartService) RemoveItem(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.mutateByID(ctx, req, "remove", (*cart.Store).RemoveItem)
}

// WatchCart отправляет текущее состояние, затем каждое изменение корзины до отмены клиентом.
func (s *CartService) WatchCart(_ *emptypb.Empty, stream grpc.ServerStream) error {
	ctx := stream.Context()
	store, err := storeFromContext(ctx)
	if err != nil {
		return err
	}

	changes, cancel := store.Subscribe(s.watchBuffer)
	defer cancel()

	snapshot, err := s.changeResponse(WatchOpSnapshot, "", store.Items())
	if err != nil {
		return err
	}
	if err := stream.SendMsg(snapshot); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			msg, err := s.changeResponse(string(change.Op), change.ItemID, change.Items)
			if err != nil {
				return err
			}
			if err := stream.SendMsg(msg); err != nil {
				s.logger.WithError(err).Debug("watch stream closed")
				return err
			}
		}
	}
}

func (s *CartService) mutateByID(
	ctx context.Context,
	req *wrapperspb.StringValue,
	operation string,
	mutate func(*cart.Store, context.Context, string) error,
) (*structpb.Struct, error) {
	if req == nil || strings.TrimSpace(req.GetValue()) == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	store, err := storeFromContext(ctx)
	if err != nil {
		return nil, err
	}

	id := req.GetValue()
	return s.applyMutation(ctx, store, operation, id, func() error {
		return mutate(store, ctx, id)
	})
}

// applyMutation выполняет мутацию и отображает ошибки в gRPC-коды. Ошибка записи
// не является ошибкой RPC: состояние в памяти изменено, ответ содержит persisted=false.
func (s *CartService) applyMutation(ctx context.Context, store *cart.Store, operation, itemID string, mutate func() error) (*structpb.Struct, error) {
	err := mutate()
	persisted := true

	switch {
	case err == nil:
	case domain.IsValidation(err):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case domain.IsPersistence(err):
		persisted = false
		s.logger.WithError(err).WithFields(log.Fields{
			"operation": operation,
			"item_id":   itemID,
		}).Warn("cart mutation applied but not persisted")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(ctx.Err()).Err()
	default:
		s.logger.WithError(err).WithField("operation", operation).Error("cart mutation failed")
		return nil, status.Error(codes.Internal, "cart mutation failed")
	}

	return s.cartResponse(store.Items(), persisted)
}

func storeFromContext(ctx context.Context) (*cart.Store, error) {
	store, err := cart.FromContext(ctx)
	if err != nil {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	return store, nil
}

func (s *CartService) cartResponse(items []domain.CartItem, persisted bool) (*structpb.Struct, error) {
	fields := cartFields(items)
	fields["persisted"] = persisted
	return newStruct(fields)
}

func (s *CartService) changeResponse(op, itemID string, items []domain.CartItem) (*structpb.Struct, error) {
	fields := cartFields(items)
	fields["op"] = op
	if itemID != "" {
		fields["item_id"] = itemID
	}
	return newStruct(fields)
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return msg, nil
}

func cartFields(items []domain.CartItem) map[string]any {
	list := make([]any, 0, len(items))
	for _, item := range items {
		list = append(list, map[string]any{
			"id":        item.ID,
			"title":     item.Title,
			"image_url": item.ImageURL,
			"price":     item.Price,
			"quantity":  item.Quantity,
		})
	}

	summary := domain.Summarize(items)
	return map[string]any{
		"items":           list,
		"count":           summary.Count,
		"total":           summary.Total,
		"total_formatted": money.FormatValue(summary.Total),
	}
}

func productFromStruct(req *structpb.Struct) (domain.Product, error) {
	data, err := json.Marshal(req.AsMap())
	if err != nil {
		return domain.Product{}, err
	}
	var product domain.Product
	if err := json.Unmarshal(data, &product); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// CartView: клиентское представление ответа сервиса.
type CartView struct {
	Op             string            `json:"op,omitempty"`
	ItemID         string            `json:"item_id,omitempty"`
	Items          []domain.CartItem `json:"items"`
	Count          int               `json:"count"`
	Total          float64           `json:"total"`
	TotalFormatted string            `json:"total_formatted"`
	Persisted      bool              `json:"persisted"`
}

// DecodeCartView разбирает ответ GetCart/мутаций/WatchCart.
func DecodeCartView(msg *structpb.Struct) (CartView, error) {
	if msg == nil {
		return CartView{}, errors.New("empty cart response")
	}
	data, err := json.Marshal(msg.AsMap())
	if err != nil {
		return CartView{}, err
	}
	var view CartView
	if err := json.Unmarshal(data, &view); err != nil {
		return CartView{}, err
	}
	return view, nil
}

// ScopeUnaryInterceptor кладёт корзину в контекст каждого unary-запроса.
func ScopeUnaryInterceptor(store *cart.Store) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		return handler(cart.NewContext(ctx, store), req)
	}
}

// ScopeStreamInterceptor кладёт корзину в контекст каждого stream-запроса.
func ScopeStreamInterceptor(store *cart.Store) grpc.StreamServerInterceptor {
	return func(srv any, stream grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		return handler(srv, &scopedStream{ServerStream: stream, ctx: cart.NewContext(stream.Context(), store)})
	}
}

type scopedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *scopedStream) Context() context.Context {
	return s.ctx
}
