package types_test

import (
	"encoding/json"
	"sort"
	"testing"

	types "github.com/okian/trophy/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestLess(t *testing.T) {
	Convey("Given standings with mixed scores", t, func() {
		rows := []types.Standing{
			{URN: "U3", Score: 50},
			{URN: "U1", Score: 103},
			{URN: "U2", Score: 50},
			{URN: "U0", Score: 0},
		}

		Convey("When sorted with Less", func() {
			sort.Slice(rows, func(i, j int) bool { return types.Less(rows[i], rows[j]) })

			Convey("Then higher scores come first and ties order by URN", func() {
				So(rows[0].URN, ShouldEqual, "U1")
				So(rows[1].URN, ShouldEqual, "U2")
				So(rows[2].URN, ShouldEqual, "U3")
				So(rows[3].URN, ShouldEqual, "U0")
			})
		})

		Convey("Then a standing is never less than itself", func() {
			So(types.Less(rows[0], rows[0]), ShouldBeFalse)
		})
	})
}

func TestEntryAt(t *testing.T) {
	Convey("Given a standing", t, func() {
		s := types.Standing{URN: "U7", Name: "Ravi", Branch: "ECE", Year: 3, Score: 55}

		Convey("When it becomes a leaderboard row", func() {
			e := types.EntryAt(s, 4)

			Convey("Then every field carries over", func() {
				So(e, ShouldResemble, types.Entry{Rank: 4, URN: "U7", Name: "Ravi", Branch: "ECE", Year: 3, Score: 55})
			})

			Convey("And the JSON form uses snake case keys", func() {
				b, err := json.Marshal(e)
				So(err, ShouldBeNil)
				So(string(b), ShouldEqual, `{"rank":4,"urn":"U7","name":"Ravi","branch":"ECE","year":3,"score":55}`)
			})
		})

		Convey("When optional fields are empty", func() {
			b, err := json.Marshal(types.EntryAt(types.Standing{URN: "U1"}, 1))
			So(err, ShouldBeNil)
			So(string(b), ShouldEqual, `{"rank":1,"urn":"U1","score":0}`)
		})
	})
}
