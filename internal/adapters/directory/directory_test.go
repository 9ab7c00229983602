package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/okian/trophy/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func openMemory(t *testing.T) *Directory {
	t.Helper()
	d, err := Open(context.Background(), DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDirectory_CRUD(t *testing.T) {
	Convey("Given an in-memory sqlite directory", t, func() {
		ctx := context.Background()
		d := openMemory(t)

		rec := model.StudentRecord{
			URN:       "U1",
			Name:      "Asha",
			Branch:    "CSE",
			Year:      2,
			IsCaptain: true,
			Sports:    []string{"International Chess", "Gym"},
			Positions: []string{"2nd", "participated"},
		}

		Convey("When a record is stored", func() {
			So(d.Put(ctx, rec), ShouldBeNil)

			Convey("Then it reads back unchanged, pairing order included", func() {
				got, err := d.Get(ctx, "U1")
				So(err, ShouldBeNil)
				So(got, ShouldResemble, rec)
				n, err := d.Count(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
			})

			Convey("And it is stored again with changes", func() {
				rec.Positions = []string{"1st"}
				rec.IsCaptain = false
				So(d.Put(ctx, rec), ShouldBeNil)

				Convey("Then the newer version replaces it", func() {
					got, err := d.Get(ctx, "U1")
					So(err, ShouldBeNil)
					So(got.Positions, ShouldResemble, []string{"1st"})
					So(got.IsCaptain, ShouldBeFalse)
					n, _ := d.Count(ctx)
					So(n, ShouldEqual, 1)
				})
			})

			Convey("And it is deleted", func() {
				So(d.Delete(ctx, "U1"), ShouldBeNil)

				Convey("Then it is gone", func() {
					_, err := d.Get(ctx, "U1")
					So(errors.Is(err, ErrNotFound), ShouldBeTrue)
					So(errors.Is(d.Delete(ctx, "U1"), ErrNotFound), ShouldBeTrue)
				})
			})
		})

		Convey("When a record has no sports", func() {
			So(d.Put(ctx, model.StudentRecord{URN: "U0"}), ShouldBeNil)

			Convey("Then empty lists are returned", func() {
				got, err := d.Get(ctx, "U0")
				So(err, ShouldBeNil)
				So(got.Sports, ShouldBeEmpty)
				So(got.Positions, ShouldBeEmpty)
			})
		})

		Convey("When the URN is blank", func() {
			So(errors.Is(d.Put(ctx, model.StudentRecord{URN: "  "}), ErrInvalidURN), ShouldBeTrue)
		})
	})
}

func TestDirectory_List(t *testing.T) {
	Convey("Given students across years and branches", t, func() {
		ctx := context.Background()
		d := openMemory(t)
		for _, r := range []model.StudentRecord{
			{URN: "U3", Branch: "CSE", Year: 1},
			{URN: "U1", Branch: "ECE", Year: 2},
			{URN: "U2", Branch: "CSE", Year: 2},
			{URN: "U4", Branch: "CSE", Year: 2},
		} {
			So(d.Put(ctx, r), ShouldBeNil)
		}

		urns := func(f Filter) []string {
			recs, err := d.List(ctx, f)
			So(err, ShouldBeNil)
			out := make([]string, 0, len(recs))
			for _, r := range recs {
				out = append(out, r.URN)
			}
			return out
		}

		Convey("Then an empty filter lists everyone by URN", func() {
			So(urns(Filter{}), ShouldResemble, []string{"U1", "U2", "U3", "U4"})
		})

		Convey("Then filters narrow the scope", func() {
			So(urns(Filter{Year: 2}), ShouldResemble, []string{"U1", "U2", "U4"})
			So(urns(Filter{Branch: "CSE"}), ShouldResemble, []string{"U2", "U3", "U4"})
			So(urns(Filter{Year: 2, Branch: "CSE"}), ShouldResemble, []string{"U2", "U4"})
			So(urns(Filter{Year: 9}), ShouldBeEmpty)
		})
	})
}

func TestDirectory_Rebind(t *testing.T) {
	Convey("Given query placeholders", t, func() {
		q := "SELECT a FROM t WHERE x=? AND y=?"

		Convey("Then postgres gets numbered parameters", func() {
			pg := &Directory{driver: DriverPostgres}
			So(pg.rebind(q), ShouldEqual, "SELECT a FROM t WHERE x=$1 AND y=$2")
		})

		Convey("Then other drivers keep question marks", func() {
			So((&Directory{driver: DriverSQLite}).rebind(q), ShouldEqual, q)
			So((&Directory{driver: DriverMySQL}).rebind(q), ShouldEqual, q)
		})
	})
}

func TestOpen_Errors(t *testing.T) {
	Convey("Given bad connection settings", t, func() {
		ctx := context.Background()

		Convey("Then an unknown driver is rejected", func() {
			_, err := Open(ctx, Driver("oracle"), "")
			So(errors.Is(err, ErrUnsupportedDriver), ShouldBeTrue)
		})

		Convey("Then a malformed mysql DSN is rejected before dialing", func() {
			_, err := Open(ctx, DriverMySQL, "not a dsn")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "parse mysql dsn")
		})
	})
}
