// Package codec is the gRPC client for the external embedding and retrieval
// service. Messages travel as google.protobuf.Struct.
package codec

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/text2sql/internal/retrieval"
	"github.com/danielpatrickdp/text2sql/internal/vectorstore"
)

// #region methods
const (
	serviceName  = "/text2sql.codec.v1.CodecService/"
	methodEmbed  = serviceName + "Embed"
	methodSearch = serviceName + "Search"
	methodStore  = serviceName + "StoreItem"
	methodDelete = serviceName + "DeleteItems"
)

// #endregion methods

// #region client-struct
// CodecClient wraps the gRPC connection to the codec service.
type CodecClient struct {
	conn   *grpc.ClientConn
	client grpc.ClientConnInterface
}

// #endregion client-struct

// #region constructor
// NewCodecClient connects to the codec gRPC server.
func NewCodecClient(addr string) (*CodecClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &CodecClient{conn: conn, client: conn}, nil
}

// NewCodecClientWithConn creates a CodecClient over an injected connection.
// Used for testing without a real gRPC server.
func NewCodecClientWithConn(cc grpc.ClientConnInterface) *CodecClient {
	return &CodecClient{client: cc}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *CodecClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region invoke
func (c *CodecClient) invoke(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := &structpb.Struct{}
	if err := c.client.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion invoke

// #region embed
// Embed sends text to the codec service for embedding.
func (c *CodecClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.invoke(ctx, methodEmbed, map[string]any{"text": text})
	if err != nil {
		return nil, fmt.Errorf("embed rpc: %w", err)
	}
	vals := resp.GetFields()["embedding"].GetListValue().GetValues()
	if len(vals) == 0 {
		return nil, fmt.Errorf("embed rpc: empty embedding")
	}
	vec := make([]float32, len(vals))
	for i, v := range vals {
		vec[i] = float32(v.GetNumberValue())
	}
	return vec, nil
}

// #endregion embed

// #region search
// Search implements retrieval.Store against the codec service's index.
func (c *CodecClient) Search(ctx context.Context, req retrieval.SearchRequest) ([]retrieval.Item, error) {
	resp, err := c.invoke(ctx, methodSearch, map[string]any{
		"embedding": floatsToAny(req.Embedding),
		"data_type": string(req.Type),
		"scope_id":  req.ScopeID,
		"top_k":     req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("search rpc: %w", err)
	}

	results := resp.GetFields()["results"].GetListValue().GetValues()
	items := make([]retrieval.Item, 0, len(results))
	for _, r := range results {
		f := r.GetStructValue().GetFields()
		it := retrieval.Item{
			ID:      f["id"].GetStringValue(),
			Type:    req.Type,
			Content: f["text"].GetStringValue(),
			Score:   f["score"].GetNumberValue(),
		}
		if extra := f["fields"].GetStructValue().GetFields(); len(extra) > 0 {
			it.Fields = make(map[string]string, len(extra))
			for k, v := range extra {
				it.Fields[k] = v.GetStringValue()
			}
		}
		items = append(items, it)
	}
	return items, nil
}

// #endregion search

// #region store-item
// StoreItem stores a record in the codec service's index.
func (c *CodecClient) StoreItem(ctx context.Context, r vectorstore.Record) (string, error) {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	resp, err := c.invoke(ctx, methodStore, map[string]any{
		"id":        r.ID,
		"data_type": string(r.Type),
		"scope_id":  r.ScopeID,
		"text":      r.Content,
		"fields":    fields,
		"embedding": floatsToAny(r.Embedding),
	})
	if err != nil {
		return "", fmt.Errorf("store item rpc: %w", err)
	}
	return resp.GetFields()["id"].GetStringValue(), nil
}

// #endregion store-item

// #region delete-items
// DeleteItems batch-deletes items by ID.
func (c *CodecClient) DeleteItems(ctx context.Context, ids []string) (int, error) {
	list := make([]any, len(ids))
	for i, id := range ids {
		list[i] = id
	}
	resp, err := c.invoke(ctx, methodDelete, map[string]any{"ids": list})
	if err != nil {
		return 0, fmt.Errorf("delete items rpc: %w", err)
	}
	return int(resp.GetFields()["deleted_count"].GetNumberValue()), nil
}

// #endregion delete-items

func floatsToAny(v []float32) []any {
	out := make([]any, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
