package blob_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sbellone/carnet/internal/adapters/blob"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMemoryStorage(t *testing.T) {
	Convey("Given an in-memory blob store", t, func() {
		ctx := context.Background()
		m := blob.NewMemory()

		Convey("When uploading a payload", func() {
			url, err := m.Upload(ctx, "photos/acct-1/p1", []byte("bytes"))
			So(err, ShouldBeNil)
			So(url, ShouldEqual, "memory://photos/acct-1/p1")

			Convey("Then it can be downloaded back", func() {
				got, err := m.Download(ctx, "photos/acct-1/p1")
				So(err, ShouldBeNil)
				So(string(got), ShouldEqual, "bytes")
			})

			Convey("Then a signed URL carries an expiry", func() {
				signed, err := m.SignedURL(ctx, "photos/acct-1/p1", time.Hour)
				So(err, ShouldBeNil)
				So(signed, ShouldContainSubstring, "expires=")
			})

			Convey("And deleting it makes it unreachable", func() {
				So(m.Delete(ctx, "photos/acct-1/p1"), ShouldBeNil)

				_, err := m.Download(ctx, "photos/acct-1/p1")
				So(errors.Is(err, blob.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When uploading with an empty key", func() {
			_, err := m.Upload(ctx, "", []byte("bytes"))
			So(errors.Is(err, blob.ErrEmptyKey), ShouldBeTrue)
		})

		Convey("When downloading an unknown key", func() {
			_, err := m.Download(ctx, "photos/acct-1/missing")
			So(errors.Is(err, blob.ErrNotFound), ShouldBeTrue)
		})

		Convey("When the caller mutates an uploaded payload afterwards", func() {
			payload := []byte("original")
			_, err := m.Upload(ctx, "photos/acct-1/p2", payload)
			So(err, ShouldBeNil)
			payload[0] = 'X'

			got, err := m.Download(ctx, "photos/acct-1/p2")
			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, "original")
		})
	})
}

func TestKeyNamespacing(t *testing.T) {
	Convey("Given the key helpers", t, func() {
		So(blob.PhotoKey("acct-1", "p1"), ShouldEqual, "photos/acct-1/p1")
		So(blob.BackupKey("acct-1", "export-s1.json"), ShouldEqual, "backups/acct-1/export-s1.json")
	})
}
