package bridgedb

import (
	"context"
	"log"

	mghelper "github.com/kr8tiv/cctp-relayer/pkg/pgutil/migrations"
	"github.com/kr8tiv/cctp-relayer/pkg/store"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating inv_nav_snapshots table...")
		if err := mghelper.CreateSchema(ctx, db, &store.NAVSnapshotDao{}); err != nil {
			return err
		}
		// Create indexes
		return mghelper.CreateModelIndexes(ctx, db, &store.NAVSnapshotDao{}, "captured_at")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping inv_nav_snapshots table...")
		return mghelper.DropTables(ctx, db, &store.NAVSnapshotDao{})
	})
}
