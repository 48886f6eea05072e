package service

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"gacha-ledger/internal/catalog"
	"gacha-ledger/internal/domain"
)

var (
	bannerStart  = time.Date(2023, 4, 26, 2, 0, 0, 0, time.UTC)
	bannerEnd    = time.Date(2023, 5, 17, 10, 0, 0, 0, time.UTC)
	duringBanner = time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	afterBanner  = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
)

const (
	featured  int64 = 1102
	permanent int64 = 1003
	unmapped  int64 = 1005
	common    int64 = 20000
)

func testSchedule() fakeSchedule {
	return fakeSchedule{
		standard: map[int64]bool{permanent: true},
		windows:  map[int64][]catalog.TimeRange{featured: {{Start: bannerStart, End: bannerEnd}}},
	}
}

func rarities(category domain.Category, rs ...int) []domain.Pull {
	pulls := make([]domain.Pull, len(rs))
	for i, r := range rs {
		pulls[i] = domain.Pull{
			SequenceID: int64(i + 1),
			Category:   category,
			Item:       domain.ItemRef{Kind: domain.ItemEquipment, ID: common},
			Rarity:     r,
			Timestamp:  duringBanner.Add(time.Duration(i) * time.Minute),
		}
	}
	return pulls
}

// tierBSequence builds a guaranteed-category history where every pull is a
// tierB hit on the given item at the given time.
func tierBSequence(category domain.Category, hits ...domain.Pull) []domain.Pull {
	for i := range hits {
		hits[i].SequenceID = int64(i + 1)
		hits[i].Category = category
		hits[i].Rarity = 5
	}
	return hits
}

func hit(id int64, at time.Time) domain.Pull {
	return domain.Pull{Item: domain.ItemRef{Kind: domain.ItemCharacter, ID: id}, Timestamp: at}
}

func TestComputeAccountStat(t *testing.T) {
	Convey("Given the worked example [3,3,4,3,5]", t, func() {
		stat := ComputeAccountStat(domain.HSRStandard, rarities(domain.HSRStandard, 3, 3, 4, 3, 5), testSchedule())

		Convey("Then there is exactly one tierB cycle of length 5", func() {
			So(stat.Count, ShouldEqual, 5)
			So(stat.AvgPullsToTierB, ShouldNotBeNil)
			So(*stat.AvgPullsToTierB, ShouldEqual, 5)
		})

		Convey("Then the tierA cycle closes at the third pull", func() {
			So(stat.AvgPullsToTierA, ShouldNotBeNil)
			So(*stat.AvgPullsToTierA, ShouldEqual, 3)
		})

		Convey("Then a non-guaranteed category has no win rate", func() {
			So(stat.WinRate, ShouldBeNil)
			So(stat.MaxWinStreak, ShouldEqual, 0)
		})
	})

	Convey("Given a history with no rare hits", t, func() {
		stat := ComputeAccountStat(domain.HSRCharacter, rarities(domain.HSRCharacter, 3, 3, 3), testSchedule())

		Convey("Then averages and win rate are undefined, not zero", func() {
			So(stat.AvgPullsToTierA, ShouldBeNil)
			So(stat.AvgPullsToTierB, ShouldBeNil)
			So(stat.WinRate, ShouldBeNil)
		})
	})

	Convey("Given several cycles", t, func() {
		stat := ComputeAccountStat(domain.ZZZStandard, rarities(domain.ZZZStandard, 4, 3, 4, 3, 3, 5, 3, 5), testSchedule())

		Convey("Then averages are the mean cycle lengths", func() {
			So(*stat.AvgPullsToTierA, ShouldEqual, 1.5)
			So(*stat.AvgPullsToTierB, ShouldEqual, 4)
		})
	})
}

func TestGuaranteeMechanic(t *testing.T) {
	Convey("Given a character banner history of win, loss, guaranteed, win, win", t, func() {
		pulls := tierBSequence(domain.HSRCharacter,
			hit(featured, duringBanner),
			hit(permanent, duringBanner),
			hit(featured, duringBanner),
			hit(featured, duringBanner),
			hit(featured, duringBanner),
		)
		stat := ComputeAccountStat(domain.HSRCharacter, pulls, testSchedule())

		Convey("Then the guaranteed pull is excluded from the win rate", func() {
			So(stat.WinRate, ShouldNotBeNil)
			So(*stat.WinRate, ShouldEqual, 0.75)
		})

		Convey("Then streaks report the longest runs", func() {
			So(stat.MaxWinStreak, ShouldEqual, 2)
			So(stat.MaxLossStreak, ShouldEqual, 1)
		})
	})

	Convey("Given a featured item pulled outside its window", t, func() {
		pulls := tierBSequence(domain.HSRCharacter, hit(featured, afterBanner), hit(featured, afterBanner))
		stat := ComputeAccountStat(domain.HSRCharacter, pulls, testSchedule())

		Convey("Then it is a loss and the next hit is guaranteed", func() {
			So(*stat.WinRate, ShouldEqual, 0)
			So(stat.MaxLossStreak, ShouldEqual, 1)
		})
	})

	Convey("Given an item the schedule does not cover", t, func() {
		pulls := tierBSequence(domain.HSRCharacter, hit(unmapped, afterBanner))
		stat := ComputeAccountStat(domain.HSRCharacter, pulls, testSchedule())

		Convey("Then only the denylist decides and it is a win", func() {
			So(*stat.WinRate, ShouldEqual, 1)
		})
	})

	Convey("Given the same first loss under both first-hit policies", t, func() {
		history := func(category domain.Category) []domain.Pull {
			return tierBSequence(category,
				hit(permanent, duringBanner),
				hit(featured, duringBanner),
				hit(featured, duringBanner),
			)
		}

		Convey("When the category classifies the first hit", func() {
			So(domain.HSRCharacter.FirstHitPolicy(), ShouldEqual, domain.FirstHitClassify)
			stat := ComputeAccountStat(domain.HSRCharacter, history(domain.HSRCharacter), testSchedule())

			Convey("Then it counts as a loss", func() {
				So(*stat.WinRate, ShouldEqual, 0.5)
				So(stat.MaxLossStreak, ShouldEqual, 1)
			})
		})

		Convey("When the category excludes the first hit", func() {
			So(domain.GenshinCharacter.FirstHitPolicy(), ShouldEqual, domain.FirstHitExclude)
			stat := ComputeAccountStat(domain.GenshinCharacter, history(domain.GenshinCharacter), testSchedule())

			Convey("Then it still arms the guarantee but is not counted", func() {
				So(*stat.WinRate, ShouldEqual, 1)
				So(stat.MaxLossStreak, ShouldEqual, 0)
				So(stat.MaxWinStreak, ShouldEqual, 1)
			})
		})
	})
}

func TestRecomputeAccount(t *testing.T) {
	Convey("Given a ledger with the worked example", t, func() {
		h := newHarness(t)
		ctx := context.Background()
		pulls := rarities(domain.HSRStandard, 3, 3, 4, 3, 5)
		for i := range pulls {
			pulls[i].AccountID = hsrAccount
		}
		_, err := h.pulls.Merge(ctx, hsrAccount, domain.HSRStandard, pulls, domain.ProvenanceOfficial)
		So(err, ShouldBeNil)

		Convey("When the account is recomputed", func() {
			stat, err := h.engine.RecomputeAccount(ctx, hsrAccount, domain.HSRStandard)
			So(err, ShouldBeNil)

			Convey("Then the stored stat matches the computed one", func() {
				stored, ok, err := h.service.GetAccountStat(ctx, hsrAccount, domain.HSRStandard)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(stored.Count, ShouldEqual, stat.Count)
				So(*stored.AvgPullsToTierB, ShouldEqual, 5)
			})
		})

		Convey("When another account is read", func() {
			_, ok, err := h.service.GetAccountStat(ctx, 1, domain.HSRStandard)

			Convey("Then it is absent, not an error", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
			})
		})
	})
}
