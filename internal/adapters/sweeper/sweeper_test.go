package sweeper

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/sbellone/carnet/internal/adapters/store"
	"github.com/sbellone/carnet/internal/domain/model"
	"github.com/sbellone/carnet/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestSweepOnce(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store with staged photos of mixed ages", t, func() {
		st, err := store.Open(ctx)
		So(err, ShouldBeNil)

		fresh := model.TempPhoto{
			ID:         "tp-fresh",
			StudentID:  "student-1",
			Payload:    []byte("fresh"),
			CapturedAt: time.Now().Add(-time.Hour),
		}
		stale := model.TempPhoto{
			ID:         "tp-stale",
			StudentID:  "student-1",
			Payload:    []byte("stale"),
			CapturedAt: time.Now().Add(-100 * time.Hour),
		}
		So(st.Put(ctx, store.CollectionTempPhotos, fresh), ShouldBeNil)
		So(st.Put(ctx, store.CollectionTempPhotos, stale), ShouldBeNil)

		Convey("When sweeping with the default max age", func() {
			sw := New(st)
			res, err := sw.SweepOnce(ctx)

			Convey("Then only the stale photo is expired", func() {
				So(err, ShouldBeNil)
				So(res.Expired, ShouldEqual, 1)
				So(res.Duplicates, ShouldEqual, 0)

				_, err = st.Get(ctx, store.CollectionTempPhotos, "tp-stale")
				So(errors.Is(err, store.ErrNotFound), ShouldBeTrue)
				_, err = st.Get(ctx, store.CollectionTempPhotos, "tp-fresh")
				So(err, ShouldBeNil)
			})
		})

		Convey("When expiry is disabled", func() {
			sw := New(st, WithMaxAge(0))
			res, err := sw.SweepOnce(ctx)

			Convey("Then nothing is deleted", func() {
				So(err, ShouldBeNil)
				So(res.Expired, ShouldEqual, 0)
				So(st.Count(ctx, store.CollectionTempPhotos), ShouldEqual, 2)
			})
		})
	})
}

func TestSweepDuplicateDetection(t *testing.T) {
	ctx := context.Background()

	Convey("Given a payload present both durably and in staging", t, func() {
		st, err := store.Open(ctx)
		So(err, ShouldBeNil)

		capturedAt := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
		payload := []byte("interrupted promotion")

		So(st.Put(ctx, store.CollectionPhotos, model.Photo{
			ID:        "photo-1",
			StudentID: "student-1",
			Payload:   payload,
			CreatedAt: capturedAt,
		}), ShouldBeNil)
		So(st.Put(ctx, store.CollectionTempPhotos, model.TempPhoto{
			ID:         "tp-1",
			StudentID:  "student-1",
			Payload:    payload,
			CapturedAt: capturedAt,
		}), ShouldBeNil)

		Convey("When sweeping", func() {
			sw := New(st)
			res, err := sw.SweepOnce(ctx)

			Convey("Then the duplicate is reported but both copies survive", func() {
				So(err, ShouldBeNil)
				So(res.Duplicates, ShouldEqual, 1)
				So(res.Expired, ShouldEqual, 0)

				_, err = st.Get(ctx, store.CollectionPhotos, "photo-1")
				So(err, ShouldBeNil)
				_, err = st.Get(ctx, store.CollectionTempPhotos, "tp-1")
				So(err, ShouldBeNil)
			})
		})

		Convey("When the staged payload differs from every durable one", func() {
			So(st.Put(ctx, store.CollectionTempPhotos, model.TempPhoto{
				ID:         "tp-2",
				StudentID:  "student-1",
				Payload:    []byte("different"),
				CapturedAt: capturedAt,
			}), ShouldBeNil)

			sw := New(st)
			res, err := sw.SweepOnce(ctx)

			Convey("Then only the true duplicate is counted", func() {
				So(err, ShouldBeNil)
				So(res.Duplicates, ShouldEqual, 1)
			})
		})
	})
}

func TestSweeperLifecycle(t *testing.T) {
	ctx := context.Background()

	Convey("Given a running sweeper", t, func() {
		st, err := store.Open(ctx)
		So(err, ShouldBeNil)

		So(st.Put(ctx, store.CollectionTempPhotos, model.TempPhoto{
			ID:         "tp-old",
			StudentID:  "student-1",
			Payload:    []byte("old"),
			CapturedAt: time.Now().Add(-time.Hour),
		}), ShouldBeNil)

		sw := New(st, WithInterval(10*time.Millisecond), WithMaxAge(time.Minute))
		sw.Start(ctx)

		Convey("When enough ticks have elapsed", func() {
			time.Sleep(50 * time.Millisecond)
			sw.Stop()

			Convey("Then Stop returns and a second Stop is harmless", func() {
				sw.Stop()
				So(st.Count(ctx, store.CollectionTempPhotos), ShouldEqual, 1)
			})
		})
	})
}
