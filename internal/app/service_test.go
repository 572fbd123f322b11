package service

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/sbellone/carnet/internal/adapters/bus"
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

// newTestService starts a service on a fresh in-memory store with the
// background sweeper disabled.
func newTestService(ctx context.Context, t *testing.T) *Service {
	t.Helper()
	svc := New(WithSweepInterval(0))
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Stop)
	return svc
}

func TestStudentLifecycle(t *testing.T) {
	ctx := context.Background()

	Convey("Given a running service", t, func() {
		svc := newTestService(ctx, t)

		Convey("When a student is created without an id", func() {
			st, err := svc.CreateStudent(ctx, model.Student{Nom: "Martin", Prenom: "Lea", AccountID: "acct-1"})

			Convey("Then an id is assigned and the student is readable", func() {
				So(err, ShouldBeNil)
				So(st.ID, ShouldNotBeEmpty)

				got, err := svc.Student(ctx, st.ID)
				So(err, ShouldBeNil)
				So(got.Prenom, ShouldEqual, "Lea")
			})
		})

		Convey("When an unknown student is requested", func() {
			_, err := svc.Student(ctx, "nope")

			Convey("Then ErrStudentNotFound is returned", func() {
				So(errors.Is(err, ErrStudentNotFound), ShouldBeTrue)
			})
		})

		Convey("When a student is updated", func() {
			st, err := svc.CreateStudent(ctx, model.Student{Nom: "Martin", Prenom: "Lea"})
			So(err, ShouldBeNil)

			st.Prenom = "Leo"
			updated, err := svc.UpdateStudent(ctx, st)

			Convey("Then the change is persisted and CreatedAt survives", func() {
				So(err, ShouldBeNil)
				So(updated.Prenom, ShouldEqual, "Leo")
				So(updated.CreatedAt, ShouldEqual, st.CreatedAt)
			})
		})

		Convey("When several students exist", func() {
			_, err := svc.CreateStudent(ctx, model.Student{Nom: "A"})
			So(err, ShouldBeNil)
			_, err = svc.CreateStudent(ctx, model.Student{Nom: "B"})
			So(err, ShouldBeNil)

			students, err := svc.Students(ctx)

			Convey("Then all of them are listed", func() {
				So(err, ShouldBeNil)
				So(len(students), ShouldEqual, 2)
			})
		})
	})
}

func TestDeleteStudentCascade(t *testing.T) {
	ctx := context.Background()

	Convey("Given a student with a carnet, photos and staged photos", t, func() {
		svc := newTestService(ctx, t)

		st, err := svc.CreateStudent(ctx, model.Student{Nom: "Martin"})
		So(err, ShouldBeNil)

		_, err = svc.UpdateSkill(ctx, st.ID, "langage-1", model.SkillEntry{Status: model.StatusAcquired})
		So(err, ShouldBeNil)

		temp, err := svc.StageTempPhoto(ctx, st.ID, []byte("img"), "dessin")
		So(err, ShouldBeNil)
		_, err = svc.Promote(ctx, temp.ID, st.ID, "langage-1", "")
		So(err, ShouldBeNil)
		_, err = svc.StageTempPhoto(ctx, st.ID, []byte("img2"), "")
		So(err, ShouldBeNil)

		Convey("When the student is deleted", func() {
			So(svc.DeleteStudent(ctx, st.ID), ShouldBeNil)

			Convey("Then nothing owned by the student remains", func() {
				_, err := svc.Student(ctx, st.ID)
				So(errors.Is(err, ErrStudentNotFound), ShouldBeTrue)

				So(svc.store.Count(ctx, store.CollectionCarnets), ShouldEqual, 0)
				So(svc.store.Count(ctx, store.CollectionPhotos), ShouldEqual, 0)
				So(svc.store.Count(ctx, store.CollectionTempPhotos), ShouldEqual, 0)
			})
		})

		Convey("When deleting an unknown student", func() {
			err := svc.DeleteStudent(ctx, "nope")

			Convey("Then ErrStudentNotFound is returned", func() {
				So(errors.Is(err, ErrStudentNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestCarnetOperations(t *testing.T) {
	ctx := context.Background()

	Convey("Given a running service with one student", t, func() {
		svc := newTestService(ctx, t)
		st, err := svc.CreateStudent(ctx, model.Student{Nom: "Martin"})
		So(err, ShouldBeNil)

		Convey("When the carnet is fetched for the first time", func() {
			c, err := svc.Carnet(ctx, st.ID)

			Convey("Then an empty one is created", func() {
				So(err, ShouldBeNil)
				So(c.StudentID, ShouldEqual, st.ID)
				So(c.Skills, ShouldBeEmpty)

				again, err := svc.Carnet(ctx, st.ID)
				So(err, ShouldBeNil)
				So(again.ID, ShouldEqual, c.ID)
			})
		})

		Convey("When the meta block is saved", func() {
			c, err := svc.SaveMeta(ctx, st.ID, model.Meta{Nom: "Lea", Annee: "2025-2026", Periode: "2"})

			Convey("Then it is persisted on the carnet", func() {
				So(err, ShouldBeNil)
				So(c.Meta.Annee, ShouldEqual, "2025-2026")
			})
		})

		Convey("When the meta block carries an invalid period", func() {
			_, err := svc.SaveMeta(ctx, st.ID, model.Meta{Periode: "7"})

			Convey("Then ErrInvalidPeriod is returned", func() {
				So(errors.Is(err, ErrInvalidPeriod), ShouldBeTrue)
			})
		})

		Convey("When the synthese block is saved", func() {
			c, err := svc.SaveSynthese(ctx, st.ID, model.Synthese{PointsForts: "curieuse"})

			Convey("Then it is persisted on the carnet", func() {
				So(err, ShouldBeNil)
				So(c.Synthese.PointsForts, ShouldEqual, "curieuse")
			})
		})
	})
}

func TestUpdateSkill(t *testing.T) {
	ctx := context.Background()

	Convey("Given a running service with one student", t, func() {
		svc := newTestService(ctx, t)
		st, err := svc.CreateStudent(ctx, model.Student{Nom: "Martin"})
		So(err, ShouldBeNil)

		Convey("When a known skill is evaluated", func() {
			c, err := svc.UpdateSkill(ctx, st.ID, "langage-1", model.SkillEntry{
				Status:  model.StatusAcquired,
				Periode: "1",
			})

			Convey("Then the entry is stored with an evaluation timestamp", func() {
				So(err, ShouldBeNil)
				So(c.Skills["langage-1"].Status, ShouldEqual, model.StatusAcquired)
				So(c.Skills["langage-1"].EvaluatedAt, ShouldNotBeNil)
			})

			Convey("Then the cached per-domain progress is refreshed", func() {
				So(err, ShouldBeNil)
				So(c.Progress["langage"].Acquired, ShouldEqual, 1)
				So(c.Progress["langage"].Total, ShouldEqual, 1)
			})
		})

		Convey("When a skill unknown to the taxonomy is evaluated", func() {
			_, err := svc.UpdateSkill(ctx, st.ID, "ghost-skill", model.SkillEntry{Status: model.StatusAcquired})

			Convey("Then ErrUnknownSkill is returned", func() {
				So(errors.Is(err, ErrUnknownSkill), ShouldBeTrue)
			})
		})

		Convey("When the status is invalid", func() {
			_, err := svc.UpdateSkill(ctx, st.ID, "langage-1", model.SkillEntry{Status: "XX"})

			Convey("Then ErrInvalidStatus is returned", func() {
				So(errors.Is(err, ErrInvalidStatus), ShouldBeTrue)
			})
		})

		Convey("When a re-evaluation omits the photo slice", func() {
			temp, err := svc.StageTempPhoto(ctx, st.ID, []byte("img"), "")
			So(err, ShouldBeNil)
			_, err = svc.Promote(ctx, temp.ID, st.ID, "langage-1", "")
			So(err, ShouldBeNil)

			c, err := svc.UpdateSkill(ctx, st.ID, "langage-1", model.SkillEntry{Status: model.StatusInProgress})

			Convey("Then existing photos are preserved", func() {
				So(err, ShouldBeNil)
				So(len(c.Skills["langage-1"].Photos), ShouldEqual, 1)
			})
		})
	})
}

func TestProgressReport(t *testing.T) {
	ctx := context.Background()

	Convey("Given a student with evaluations across domains and periods", t, func() {
		svc := newTestService(ctx, t)
		st, err := svc.CreateStudent(ctx, model.Student{Nom: "Martin"})
		So(err, ShouldBeNil)

		_, err = svc.UpdateSkill(ctx, st.ID, "langage-1", model.SkillEntry{Status: model.StatusAcquired, Periode: "1"})
		So(err, ShouldBeNil)
		_, err = svc.UpdateSkill(ctx, st.ID, "langage-2", model.SkillEntry{Status: model.StatusInProgress, Periode: "1"})
		So(err, ShouldBeNil)
		_, err = svc.UpdateSkill(ctx, st.ID, "nombres-1", model.SkillEntry{Status: model.StatusAcquired, Periode: "2"})
		So(err, ShouldBeNil)

		Convey("When the progress report is computed", func() {
			report, err := svc.Progress(ctx, st.ID)

			Convey("Then every view is aggregated", func() {
				So(err, ShouldBeNil)
				So(report.Overall.Total, ShouldEqual, 3)
				So(report.Overall.Acquired, ShouldEqual, 2)
				So(report.Domains["langage"].Total, ShouldEqual, 2)
				So(report.Domains["langage"].Percentage, ShouldEqual, 50)
				So(report.Periods["1"].Total, ShouldEqual, 2)
				So(report.Periods["2"].Acquired, ShouldEqual, 1)
				So(report.Periods["5"].Total, ShouldEqual, 0)
			})
		})

		Convey("When the student has no carnet yet", func() {
			other, err := svc.CreateStudent(ctx, model.Student{Nom: "Autre"})
			So(err, ShouldBeNil)

			report, err := svc.Progress(ctx, other.ID)

			Convey("Then every view is zero", func() {
				So(err, ShouldBeNil)
				So(report.Overall.Total, ShouldEqual, 0)
				So(report.Overall.Percentage, ShouldEqual, 0)
			})
		})
	})
}

func TestServiceEvents(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service with a subscriber on every topic", t, func() {
		svc := newTestService(ctx, t)

		var topics []bus.Topic
		for _, topic := range []bus.Topic{bus.TopicSkillUpdated, bus.TopicCarnetUpdated, bus.TopicStudentUpdated} {
			topic := topic
			svc.Events().Subscribe(topic, func(e bus.Event) {
				topics = append(topics, e.Topic)
			})
		}

		Convey("When a skill is evaluated", func() {
			st, err := svc.CreateStudent(ctx, model.Student{Nom: "Martin"})
			So(err, ShouldBeNil)
			topics = topics[:0]

			_, err = svc.UpdateSkill(ctx, st.ID, "langage-1", model.SkillEntry{Status: model.StatusAcquired})
			So(err, ShouldBeNil)

			Convey("Then skill-updated then carnet-updated are emitted", func() {
				So(topics, ShouldResemble, []bus.Topic{bus.TopicSkillUpdated, bus.TopicCarnetUpdated})
			})
		})

		Convey("When a student is created", func() {
			topics = topics[:0]
			_, err := svc.CreateStudent(ctx, model.Student{Nom: "Martin"})
			So(err, ShouldBeNil)

			Convey("Then student-updated is emitted", func() {
				So(topics, ShouldResemble, []bus.Topic{bus.TopicStudentUpdated})
			})
		})
	})
}

func TestPreferences(t *testing.T) {
	ctx := context.Background()

	Convey("Given a running service", t, func() {
		svc := newTestService(ctx, t)

		Convey("When preferences were never saved", func() {
			p, err := svc.Preferences(ctx, "acct-1")

			Convey("Then an empty record comes back", func() {
				So(err, ShouldBeNil)
				So(p.ID, ShouldEqual, "acct-1")
				So(p.Values, ShouldBeEmpty)
			})
		})

		Convey("When a school year is selected", func() {
			So(svc.SetSchoolYear(ctx, "acct-1", "2024-2025"), ShouldBeNil)

			year, err := svc.CurrentSchoolYear(ctx, "acct-1")

			Convey("Then it is returned as current", func() {
				So(err, ShouldBeNil)
				So(year.Label, ShouldEqual, "2024-2025")
				So(year.Current, ShouldBeTrue)
			})
		})

		Convey("When no school year was selected", func() {
			year, err := svc.CurrentSchoolYear(ctx, "acct-2")

			Convey("Then the label is derived from the date", func() {
				So(err, ShouldBeNil)
				So(year.Label, ShouldNotBeEmpty)
			})
		})
	})
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service with data", t, func() {
		svc := newTestService(ctx, t)
		st, err := svc.CreateStudent(ctx, model.Student{Nom: "Martin"})
		So(err, ShouldBeNil)
		_, err = svc.UpdateSkill(ctx, st.ID, "langage-1", model.SkillEntry{Status: model.StatusAcquired})
		So(err, ShouldBeNil)

		Convey("When everything is cleared", func() {
			So(svc.ClearAll(ctx), ShouldBeNil)

			Convey("Then the store is empty but the schema survives", func() {
				students, err := svc.Students(ctx)
				So(err, ShouldBeNil)
				So(students, ShouldBeEmpty)
				So(svc.store.Version(), ShouldEqual, 3)
			})
		})
	})
}

func mustParse(day string) time.Time {
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDefaultSchoolYearLabel(t *testing.T) {
	Convey("Given dates on both sides of August", t, func() {
		Convey("Then the label spans the right years", func() {
			So(defaultSchoolYearLabel(mustParse("2026-03-15")), ShouldEqual, "2025-2026")
			So(defaultSchoolYearLabel(mustParse("2026-09-01")), ShouldEqual, "2026-2027")
			So(defaultSchoolYearLabel(mustParse("2026-08-01")), ShouldEqual, "2026-2027")
		})
	})
}
