package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/trophy/internal/adapters/directory"
	"github.com/okian/trophy/internal/adapters/repository"
	service "github.com/okian/trophy/internal/app"
	"github.com/okian/trophy/internal/domain/achievement"
	"github.com/okian/trophy/internal/domain/model"
	"github.com/okian/trophy/internal/domain/types"
	"github.com/okian/trophy/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func startService(opts ...service.Option) *service.Service {
	svc := service.New(append([]service.Option{service.WithWorkerCount(2)}, opts...)...)
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc
}

// waitForScore polls the leaderboard until urn has the wanted score.
func waitForScore(svc *service.Service, urn string, want int) bool {
	ctx := context.Background()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if e, err := svc.Rank(ctx, urn); err == nil && e.Score == want {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// waitForProcessed polls until the workers have finished at least n jobs.
func waitForProcessed(svc *service.Service, n int64) bool {
	ctx := context.Background()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if svc.GetStats(ctx).Processed >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service that was never started", t, func() {
		svc := service.New()
		ctx := context.Background()

		Convey("Then operations report ErrNotStarted", func() {
			_, err := svc.Submit(ctx, model.StudentRecord{URN: "U1"})
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			_, err = svc.TopN(ctx, 5)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats(ctx).Started, ShouldBeFalse)
			So(svc.Stop(ctx), ShouldBeNil)
		})
	})

	Convey("Given a started service", t, func() {
		svc := startService()
		ctx := context.Background()

		Convey("Then starting again is a no-op and stopping works once", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.GetStats(ctx).Started, ShouldBeTrue)
			So(svc.Ping(ctx), ShouldBeNil)
			So(svc.Stop(ctx), ShouldBeNil)
			So(svc.Stop(ctx), ShouldBeNil)
			So(errors.Is(svc.Ping(ctx), service.ErrNotStarted), ShouldBeTrue)
		})
	})
}

func TestService_Submit(t *testing.T) {
	Convey("Given a running service", t, func() {
		svc := startService()
		ctx := context.Background()
		defer func() { _ = svc.Stop(ctx) }()

		rec := model.StudentRecord{
			URN: "U1", Name: "Asha", Branch: "CSE", Year: 2,
			Sports: []string{"International Chess", "Gym"}, Positions: []string{"2nd", "participated"},
		}

		Convey("When a record is submitted", func() {
			ack, err := svc.Submit(ctx, rec)
			So(err, ShouldBeNil)

			Convey("Then it is accepted and ranked with its score", func() {
				So(ack.Status, ShouldEqual, "accepted")
				So(ack.JobID, ShouldNotBeEmpty)
				So(waitForScore(svc, "U1", 103), ShouldBeTrue)

				e, _ := svc.Rank(ctx, "U1")
				So(e.Name, ShouldEqual, "Asha")
				So(e.Rank, ShouldEqual, 1)
			})

			Convey("And the same record is submitted again", func() {
				again, err := svc.Submit(ctx, rec)

				Convey("Then it is acknowledged as a duplicate", func() {
					So(err, ShouldBeNil)
					So(again.Duplicate, ShouldBeTrue)
					So(again.JobID, ShouldBeEmpty)
				})
			})

			Convey("And a corrected record lowers the score", func() {
				So(waitForScore(svc, "U1", 103), ShouldBeTrue)
				rec.Positions = []string{"pending", "DNF"}
				ack, err := svc.Submit(ctx, rec)

				Convey("Then the leaderboard follows the new total", func() {
					So(err, ShouldBeNil)
					So(ack.Duplicate, ShouldBeFalse)
					So(waitForScore(svc, "U1", 30), ShouldBeTrue)
				})
			})
		})

		Convey("When a record has no URN", func() {
			_, err := svc.Submit(ctx, model.StudentRecord{URN: "   "})

			Convey("Then it is rejected", func() {
				So(errors.Is(err, service.ErrInvalidRecord), ShouldBeTrue)
			})
		})
	})
}

func TestService_SubmitBatch(t *testing.T) {
	Convey("Given a running service", t, func() {
		svc := startService()
		ctx := context.Background()
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When a batch mixes valid and invalid records", func() {
			acks, err := svc.SubmitBatch(ctx, []model.StudentRecord{
				{URN: "U1", Sports: []string{"State Athletics"}, Positions: []string{"1st"}},
				{URN: ""},
				{URN: "U2", IsCaptain: true, Sports: []string{"Institute Football"}, Positions: []string{"pending"}},
			})

			Convey("Then each record gets its own ack", func() {
				So(err, ShouldBeNil)
				So(len(acks), ShouldEqual, 3)
				So(acks[0].Status, ShouldEqual, "accepted")
				So(acks[1].Status, ShouldEqual, "error")
				So(acks[1].Error, ShouldNotBeEmpty)
				So(acks[2].Status, ShouldEqual, "accepted")
				So(waitForScore(svc, "U1", 50), ShouldBeTrue)
				So(waitForScore(svc, "U2", 15), ShouldBeTrue)
			})
		})
	})
}

// gatedStore blocks every Upsert until the gate is closed.
type gatedStore struct {
	*repository.TreapStore
	gate chan struct{}
}

func (g *gatedStore) Upsert(ctx context.Context, st types.Standing) error {
	<-g.gate
	return g.TreapStore.Upsert(ctx, st)
}

func TestService_Backpressure(t *testing.T) {
	Convey("Given a service whose only worker is blocked", t, func() {
		ctx := context.Background()
		store := &gatedStore{TreapStore: repository.NewTreapStore(ctx), gate: make(chan struct{})}
		svc := startService(service.WithQueueSize(1), service.WithWorkerCount(1), service.WithStore(store))
		released := false
		release := func() {
			if !released {
				close(store.gate)
				released = true
			}
		}
		defer func() {
			release()
			_ = svc.Stop(ctx)
		}()

		var rejected []string
		for i := 0; i < 3; i++ {
			urn := fmt.Sprintf("U%d", i)
			_, err := svc.Submit(ctx, model.StudentRecord{URN: urn, Sports: []string{"State Athletics"}, Positions: []string{"1st"}})
			if errors.Is(err, service.ErrBackpressure) {
				rejected = append(rejected, urn)
			}
		}

		Convey("Then submissions beyond the queue are rejected", func() {
			So(len(rejected), ShouldBeGreaterThanOrEqualTo, 1)

			Convey("And a rejected record is accepted once the queue drains", func() {
				release()
				So(waitForScore(svc, "U0", 50), ShouldBeTrue)
				for deadline := time.Now().Add(2 * time.Second); svc.GetStats(ctx).QueueLength > 0 && time.Now().Before(deadline); {
					time.Sleep(5 * time.Millisecond)
				}
				rec, err := svc.Get(ctx, rejected[0])
				So(err, ShouldBeNil)
				ack, err := svc.Submit(ctx, rec)
				So(err, ShouldBeNil)
				So(ack.Duplicate, ShouldBeFalse)
				So(waitForScore(svc, rejected[0], 50), ShouldBeTrue)
			})
		})
	})
}

func TestService_ReadsAndDelete(t *testing.T) {
	Convey("Given a service with a stored student", t, func() {
		svc := startService()
		ctx := context.Background()
		defer func() { _ = svc.Stop(ctx) }()

		_, err := svc.Submit(ctx, model.StudentRecord{
			URN: "U1", IsCaptain: true,
			Sports:    []string{"National Volleyball", "National Volleyball"},
			Positions: []string{"pending", "1st"},
		})
		So(err, ShouldBeNil)
		So(waitForScore(svc, "U1", 70), ShouldBeTrue)

		Convey("Then the breakdown explains the score", func() {
			res, err := svc.Breakdown(ctx, "U1")
			So(err, ShouldBeNil)
			So(res.Total, ShouldEqual, 70)
			So(res.CaptainBonus, ShouldEqual, 15)
			So(res.PendingResolved, ShouldBeTrue)
			So(len(res.Entries), ShouldEqual, 2)
		})

		Convey("Then the stored record can be read back", func() {
			rec, err := svc.Get(ctx, "U1")
			So(err, ShouldBeNil)
			So(rec.IsCaptain, ShouldBeTrue)
		})

		Convey("When the student is deleted", func() {
			So(svc.Delete(ctx, "U1"), ShouldBeNil)

			Convey("Then it is gone everywhere", func() {
				_, err := svc.Get(ctx, "U1")
				So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
				_, err = svc.Rank(ctx, "U1")
				So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
				So(errors.Is(svc.Delete(ctx, "U1"), service.ErrNotFound), ShouldBeTrue)
				_, err = svc.Breakdown(ctx, "U1")
				So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("Then invalid limits are reported", func() {
			_, err := svc.TopN(ctx, 0)
			So(errors.Is(err, service.ErrInvalidLimit), ShouldBeTrue)
		})
	})
}

func TestService_ScoreRecords(t *testing.T) {
	Convey("Given a running service", t, func() {
		svc := startService(service.WithScoreConcurrency(2))
		ctx := context.Background()
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When records are scored without storing them", func() {
			results, err := svc.ScoreRecords(ctx, []model.StudentRecord{
				{URN: "A", Sports: []string{"Random Event"}, Positions: []string{"DNF"}},
				{URN: "B"},
				{URN: "C", Sports: []string{"State Athletics"}, Positions: []string{"1st"}},
			})

			Convey("Then results follow input order and nothing is ranked", func() {
				So(err, ShouldBeNil)
				So(results[0].Total, ShouldEqual, 0)
				So(results[1].Total, ShouldEqual, 0)
				So(results[2].Total, ShouldEqual, 50)
				So(svc.GetStats(ctx).Ranked, ShouldEqual, 0)
			})
		})
	})
}

func TestService_Rebuild(t *testing.T) {
	Convey("Given a directory populated before the service starts", t, func() {
		ctx := context.Background()
		dir, err := directory.Open(ctx, directory.DriverSQLite, ":memory:")
		So(err, ShouldBeNil)
		for i, year := range []int{1, 2, 2} {
			So(dir.Put(ctx, model.StudentRecord{
				URN: fmt.Sprintf("U%d", i), Year: year, Branch: "CSE",
				Sports: []string{"State Athletics"}, Positions: []string{"1st"},
			}), ShouldBeNil)
		}

		Convey("When the service rebuilds on start", func() {
			svc := startService(service.WithDirectory(dir), service.WithRebuildOnStart(true))
			defer func() { _ = svc.Stop(ctx) }()

			Convey("Then every stored student is ranked immediately", func() {
				stats := svc.GetStats(ctx)
				So(stats.Ranked, ShouldEqual, 3)
				So(stats.Students, ShouldEqual, 3)
			})

			Convey("And resubmitting an unchanged record is a duplicate", func() {
				rec, err := svc.Get(ctx, "U1")
				So(err, ShouldBeNil)
				ack, err := svc.Submit(ctx, rec)
				So(err, ShouldBeNil)
				So(ack.Duplicate, ShouldBeTrue)
			})
		})

		Convey("When a scoped rebuild is requested", func() {
			svc := startService(service.WithDirectory(dir))
			defer func() { _ = svc.Stop(ctx) }()
			n, err := svc.Rebuild(ctx, directory.Filter{Year: 2})

			Convey("Then only students in scope are rescored", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)
				So(svc.GetStats(ctx).Ranked, ShouldEqual, 2)
			})
		})
	})
}

func TestService_LatestVersionWins(t *testing.T) {
	Convey("Given a service with many workers", t, func() {
		svc := startService(service.WithWorkerCount(8))
		ctx := context.Background()
		defer func() { _ = svc.Stop(ctx) }()

		const students = 300
		latest := make([]model.StudentRecord, students)

		Convey("When every student is submitted twice with a lower second version", func() {
			for i := 0; i < students; i++ {
				urn := fmt.Sprintf("U%03d", i)
				first := model.StudentRecord{URN: urn, Sports: []string{"International Chess"}, Positions: []string{"1st"}}
				second := model.StudentRecord{URN: urn, Sports: []string{"Random Event"}, Positions: []string{"DNF"}}
				_, err := svc.Submit(ctx, first)
				So(err, ShouldBeNil)
				_, err = svc.Submit(ctx, second)
				So(err, ShouldBeNil)
				latest[i] = second
			}

			Convey("Then every ranked score matches the stored record", func() {
				for _, rec := range latest {
					want := achievement.ComputeScore(rec).Total
					So(want, ShouldEqual, 0)
					So(waitForScore(svc, rec.URN, want), ShouldBeTrue)
				}
				So(waitForProcessed(svc, 2*students), ShouldBeTrue)
				for _, rec := range latest {
					e, err := svc.Rank(ctx, rec.URN)
					So(err, ShouldBeNil)
					So(e.Score, ShouldEqual, 0)
				}
			})
		})

		Convey("When a student reverts to an earlier version", func() {
			a := model.StudentRecord{URN: "R1", Sports: []string{"State Athletics"}, Positions: []string{"1st"}}
			b := model.StudentRecord{URN: "R1", Sports: []string{"State Athletics"}, Positions: []string{"3rd"}}
			for _, rec := range []model.StudentRecord{a, b, a} {
				ack, err := svc.Submit(ctx, rec)
				So(err, ShouldBeNil)
				So(ack.Duplicate, ShouldBeFalse)
			}

			Convey("Then the reverted version is ranked", func() {
				So(waitForProcessed(svc, 3), ShouldBeTrue)
				e, err := svc.Rank(ctx, "R1")
				So(err, ShouldBeNil)
				So(e.Score, ShouldEqual, 50)
				stored, err := svc.Get(ctx, "R1")
				So(err, ShouldBeNil)
				So(stored.Positions, ShouldResemble, []string{"1st"})
			})
		})
	})
}

// holdingStore parks every Upsert until release is closed and reports each
// one as it arrives.
type holdingStore struct {
	*repository.TreapStore
	arrived chan string
	release chan struct{}
}

func (h *holdingStore) Upsert(ctx context.Context, st types.Standing) error {
	h.arrived <- st.URN
	<-h.release
	return h.TreapStore.Upsert(ctx, st)
}

func TestService_DeleteDuringScoring(t *testing.T) {
	Convey("Given a worker midway through writing a student's row", t, func() {
		ctx := context.Background()
		store := &holdingStore{
			TreapStore: repository.NewTreapStore(ctx),
			arrived:    make(chan string, 4),
			release:    make(chan struct{}),
		}
		svc := startService(service.WithWorkerCount(1), service.WithStore(store))
		var once sync.Once
		release := func() { once.Do(func() { close(store.release) }) }
		defer func() {
			release()
			_ = svc.Stop(ctx)
		}()

		_, err := svc.Submit(ctx, model.StudentRecord{URN: "U1", Sports: []string{"State Athletics"}, Positions: []string{"1st"}})
		So(err, ShouldBeNil)
		var arrived string
		select {
		case arrived = <-store.arrived:
		case <-time.After(3 * time.Second):
		}
		So(arrived, ShouldEqual, "U1")

		Convey("When the student is deleted before the write lands", func() {
			So(svc.Delete(ctx, "U1"), ShouldBeNil)
			release()

			Convey("Then the student stays off the leaderboard", func() {
				So(waitForProcessed(svc, 1), ShouldBeTrue)
				_, err := svc.Get(ctx, "U1")
				So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
				_, err = svc.Rank(ctx, "U1")
				So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
				So(svc.GetStats(ctx).Ranked, ShouldEqual, 0)
			})
		})

		Convey("When the student is resubmitted with a new record before the write lands", func() {
			_, err := svc.Submit(ctx, model.StudentRecord{URN: "U1", Sports: []string{"National Hockey"}, Positions: []string{"2nd"}})
			So(err, ShouldBeNil)
			release()

			Convey("Then the new record's score is ranked", func() {
				So(waitForScore(svc, "U1", 53), ShouldBeTrue)
			})
		})
	})
}

func TestService_Restart(t *testing.T) {
	Convey("Given a stopped service that created its own components", t, func() {
		ctx := context.Background()
		svc := startService()
		_, err := svc.Submit(ctx, model.StudentRecord{URN: "U1", Sports: []string{"Gym"}, Positions: []string{"1st"}})
		So(err, ShouldBeNil)
		So(svc.Stop(ctx), ShouldBeNil)

		Convey("When it is started again", func() {
			So(svc.Start(ctx), ShouldBeNil)
			defer func() { _ = svc.Stop(ctx) }()

			Convey("Then it works on fresh components", func() {
				So(svc.GetStats(ctx).Students, ShouldEqual, 0)
				_, err := svc.Submit(ctx, model.StudentRecord{URN: "U2", Sports: []string{"Gym"}, Positions: []string{"1st"}})
				So(err, ShouldBeNil)
				So(waitForScore(svc, "U2", 75), ShouldBeTrue)
			})
		})
	})

	Convey("Given a stopped service whose directory was supplied", t, func() {
		ctx := context.Background()
		dir, err := directory.Open(ctx, directory.DriverSQLite, ":memory:")
		So(err, ShouldBeNil)
		svc := startService(service.WithDirectory(dir))
		So(svc.Stop(ctx), ShouldBeNil)

		Convey("Then starting again reports that it was stopped", func() {
			So(errors.Is(svc.Start(ctx), service.ErrStopped), ShouldBeTrue)
		})
	})
}
