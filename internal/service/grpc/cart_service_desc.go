package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

// CartServiceDesc описывает cart.v1.CartService. Сообщения используют well-known типы protobuf,
// поэтому сервис работает со стандартным proto-кодеком без сгенерированного кода.
var CartServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CartServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetCart", Handler: getCartHandler},
		{MethodName: "AddItem", Handler: addItemHandler},
		{MethodName: "Increment", Handler: idHandler(MethodIncrement, CartServiceServer.Increment)},
		{MethodName: "Decrement", Handler: idHandler(MethodDecrement, CartServiceServer.Decrement)},
		{MethodName: "RemoveItem", Handler: idHandler(MethodRemoveItem, CartServiceServer.RemoveItem)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchCart", Handler: watchCartHandler, ServerStreams: true},
	},
	Metadata: "cart/v1/cart.proto",
}

func getCartHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CartServiceServer).GetCart(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetCart}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CartServiceServer).GetCart(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func addItemHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CartServiceServer).AddItem(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodAddItem}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CartServiceServer).AddItem(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func idHandler(
	fullMethod string,
	call func(CartServiceServer, context.Context, *wrapperspb.StringValue) (*structpb.Struct, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.StringValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CartServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CartServiceServer), ctx, req.(*wrapperspb.StringValue))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchCartHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(CartServiceServer).WatchCart(in, stream)
}

// CartServiceClient: клиент cart.v1.CartService.
type CartServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewCartServiceClient создаёт клиент поверх соединения.
func NewCartServiceClient(cc grpc.ClientConnInterface) *CartServiceClient {
	return &CartServiceClient{cc: cc}
}

// GetCart возвращает текущую корзину.
func (c *CartServiceClient) GetCart(ctx context.Context, opts ...grpc.CallOption) (CartView, error) {
	return c.invoke(ctx, MethodGetCart, &emptypb.Empty{}, opts...)
}

// AddItem добавляет товар.
func (c *CartServiceClient) AddItem(ctx context.Context, product domain.Product, opts ...grpc.CallOption) (CartView, error) {
	req, err := structpb.NewStruct(map[string]any{
		"id":        product.ID,
		"title":     product.Title,
		"image_url": product.ImageURL,
		"price":     product.Price,
	})
	if err != nil {
		return CartView{}, err
	}
	return c.invoke(ctx, MethodAddItem, req, opts...)
}

// Increment увеличивает количество позиции.
func (c *CartServiceClient) Increment(ctx context.Context, id string, opts ...grpc.CallOption) (CartView, error) {
	return c.invoke(ctx, MethodIncrement, wrapperspb.String(id), opts...)
}

// Decrement уменьшает количество позиции.
func (c *CartServiceClient) Decrement(ctx context.Context, id string, opts ...grpc.CallOption) (CartView, error) {
	return c.invoke(ctx, MethodDecrement, wrapperspb.String(id), opts...)
}

// RemoveItem удаляет позицию.
func (c *CartServiceClient) RemoveItem(ctx context.Context, id string, opts ...grpc.CallOption) (CartView, error) {
	return c.invoke(ctx, MethodRemoveItem, wrapperspb.String(id), opts...)
}

// WatchCart открывает поток изменений. Первое сообщение содержит текущее состояние.
func (c *CartServiceClient) WatchCart(ctx context.Context, opts ...grpc.CallOption) (*CartWatchStream, error) {
	stream, err := c.cc.NewStream(ctx, &CartServiceDesc.Streams[0], MethodWatchCart, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &CartWatchStream{stream: stream}, nil
}

func (c *CartServiceClient) invoke(ctx context.Context, method string, in any, opts ...grpc.CallOption) (CartView, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return CartView{}, err
	}
	return DecodeCartView(out)
}

// CartWatchStream читает сообщения WatchCart.
type CartWatchStream struct {
	stream grpc.ClientStream
}

// Recv блокируется до следующего изменения корзины.
func (s *CartWatchStream) Recv() (CartView, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return CartView{}, err
	}
	return DecodeCartView(msg)
}
