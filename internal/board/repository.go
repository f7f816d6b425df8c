package board

import "context"

type Repository interface {
	Get(ctx context.Context, id string) (*Board, error)
	List(ctx context.Context) ([]*Board, error)
	Save(ctx context.Context, b *Board) error
}
