package allocations

import (
	"math/big"
	"strings"
	"testing"

	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/config"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	addr1 = "0x1111111111111111111111111111111111111111"
	addr2 = "0x2222222222222222222222222222222222222222"
	addr3 = "0x3333333333333333333333333333333333333333"
)

const rawSheet = `address,community-discord,community-forum,staking-early,total
0x1111111111111111111111111111111111111111,1.5,0,10,11.5
0x2222222222222222222222222222222222222222,0,2,0,2
`

const regularSheet = `address,name,week-1,week-2
0x1111111111111111111111111111111111111111,alice,1,0.25
0x3333333333333333333333333333333333333333,carol,5,0
`

func testConfig() *config.AirdropConfig {
	cfg := config.NewDefaultAirdropConfig()
	cfg.Categories = []config.CategoryConfig{
		{Name: "community", Prefix: "community", Groups: []string{"community-discord", "community-forum"}},
		{Name: "staking", Prefix: "staking", Groups: []string{"staking-early"}},
	}
	return cfg
}

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	return NewProcessor(testConfig(), zap.NewNop())
}

func ether(s string) *big.Int {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		panic(s)
	}
	n, err := ToBaseUnits(r, 18)
	if err != nil {
		panic(err)
	}
	return n
}

func TestReadRawAirdropData(t *testing.T) {
	p := newTestProcessor(t)
	require.NoError(t, p.ReadRawAirdropData(strings.NewReader(rawSheet)))

	records := p.Records()
	require.Len(t, records, 2)
	assert.Equal(t, addr1, records[0].Address)
	assert.Equal(t, 0, records[0].Total.Cmp(big.NewRat(23, 2)))
	assert.Equal(t, 0, records[0].Categories["community"]["community-discord"].Cmp(big.NewRat(3, 2)))
	assert.Equal(t, 0, records[0].Categories["staking"]["staking-early"].Cmp(big.NewRat(10, 1)))
}

func TestReadRawAirdropData_TotalDerivedWhenMissing(t *testing.T) {
	p := newTestProcessor(t)
	sheet := "address,community-discord,staking-early\n" + addr1 + ",1.25,2\n"
	require.NoError(t, p.ReadRawAirdropData(strings.NewReader(sheet)))

	require.Len(t, p.Records(), 1)
	assert.Equal(t, 0, p.Records()[0].Total.Cmp(big.NewRat(13, 4)))
}

func TestReadRawAirdropData_Errors(t *testing.T) {
	testCases := []struct {
		name  string
		sheet string
		want  string
	}{
		{"no address column", "wallet,total\n" + addr1 + ",1\n", "address"},
		{"unknown column", "address,bogus-column\n" + addr1 + ",1\n", "does not belong"},
		{"repeated address", "address,total\n" + addr1 + ",1\n" + addr1 + ",2\n", "more than once"},
		{"bad amount", "address,total\n" + addr1 + ",abc\n", "invalid token amount"},
		{"negative amount", "address,total\n" + addr1 + ",-1\n", "negative"},
		{"ragged row", "address,total\n" + addr1 + ",1,2\n", ""},
		{"empty input", "", "header"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestProcessor(t)
			err := p.ReadRawAirdropData(strings.NewReader(tc.sheet))
			require.Error(t, err)
			if tc.want != "" {
				assert.Contains(t, err.Error(), tc.want)
			}
		})
	}
}

func TestMergeRegularDistribution(t *testing.T) {
	p := newTestProcessor(t)
	require.NoError(t, p.ReadRawAirdropData(strings.NewReader(rawSheet)))
	require.NoError(t, p.MergeRegularDistribution(strings.NewReader(regularSheet)))

	records := p.Records()
	require.Len(t, records, 3)

	// existing address: total increased, regular distribution set
	assert.Equal(t, 0, records[0].Total.Cmp(big.NewRat(51, 4)))
	regular := records[0].Categories["regular-distribution"]
	assert.Equal(t, 0, regular["regular-distribution-week-1"].Cmp(big.NewRat(1, 1)))
	assert.Equal(t, 0, regular["regular-distribution-week-2"].Cmp(big.NewRat(1, 4)))

	// new address: other categories zeroed
	assert.Equal(t, addr3, records[2].Address)
	assert.Equal(t, 0, records[2].Total.Cmp(big.NewRat(5, 1)))
	assert.Equal(t, 0, records[2].Categories["community"]["community-forum"].Sign())
	assert.Equal(t, 0, records[2].Categories["staking"]["staking-early"].Sign())
}

func TestMergeRegularDistribution_CaseInsensitive(t *testing.T) {
	p := newTestProcessor(t)
	require.NoError(t, p.ReadRawAirdropData(strings.NewReader(
		"address,total\n0xabcdefabcdefabcdefabcdefabcdefabcdefabcd,1\n")))
	require.NoError(t, p.MergeRegularDistribution(strings.NewReader(
		"address,name,week-1\n0xABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD,x,2\n")))

	require.Len(t, p.Records(), 1)
	assert.Equal(t, 0, p.Records()[0].Total.Cmp(big.NewRat(3, 1)))
}

func TestMergeRegularDistribution_BadHeader(t *testing.T) {
	p := newTestProcessor(t)
	err := p.MergeRegularDistribution(strings.NewReader("address,name\n"))
	require.Error(t, err)
}

func TestRemoveAddresses(t *testing.T) {
	p := newTestProcessor(t)
	require.NoError(t, p.ReadRawAirdropData(strings.NewReader(rawSheet)))
	require.NoError(t, p.MergeRegularDistribution(strings.NewReader(regularSheet)))

	removed := p.RemoveAddresses([]string{"0x" + strings.ToUpper(addr2[2:]), "0x9999999999999999999999999999999999999999"})
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{addr1, addr3}, p.Addresses())

	// removed addresses no longer merge into an existing record
	require.NoError(t, p.MergeRegularDistribution(strings.NewReader("address,name,week-1\n"+addr1+",alice,1\n")))
	assert.Len(t, p.Records(), 2)
}

func TestAllocations(t *testing.T) {
	p := newTestProcessor(t)
	require.NoError(t, p.ReadRawAirdropData(strings.NewReader(rawSheet)))
	require.NoError(t, p.MergeRegularDistribution(strings.NewReader(regularSheet)))
	p.RemoveAddresses([]string{addr2})

	allocs, err := p.Allocations()
	require.NoError(t, err)
	require.Len(t, allocs, 2)

	assert.Equal(t, common.HexToAddress(addr1), allocs[0].Address)
	assert.Equal(t, ether("12.75"), allocs[0].Amount)
	assert.Equal(t, common.HexToAddress(addr3), allocs[1].Address)
	assert.Equal(t, ether("5"), allocs[1].Amount)
}

func TestAllocations_MergesSameAddressAndDropsZero(t *testing.T) {
	p := newTestProcessor(t)
	sheet := "address,total\n" +
		addr1 + ",1\n" +
		addr1[2:] + ",2\n" +
		addr2 + ",0\n"
	require.NoError(t, p.ReadRawAirdropData(strings.NewReader(sheet)))

	allocs, err := p.Allocations()
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, ether("3"), allocs[0].Amount)
}

func TestAllocations_Errors(t *testing.T) {
	t.Run("invalid address", func(t *testing.T) {
		p := newTestProcessor(t)
		require.NoError(t, p.ReadRawAirdropData(strings.NewReader("address,total\n0x1234,1\n")))
		_, err := p.Allocations()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid address")
	})

	t.Run("too many decimals", func(t *testing.T) {
		cfg := testConfig()
		cfg.TokenDecimals = 2
		p := NewProcessor(cfg, zap.NewNop())
		require.NoError(t, p.ReadRawAirdropData(strings.NewReader("address,total\n"+addr1+",1.005\n")))
		_, err := p.Allocations()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decimal places")
	})

	t.Run("exceeds uint256", func(t *testing.T) {
		p := newTestProcessor(t)
		huge := "1" + strings.Repeat("0", 70)
		require.NoError(t, p.ReadRawAirdropData(strings.NewReader("address,total\n"+addr1+","+huge+"\n")))
		_, err := p.Allocations()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds")
	})
}

func TestEligibility(t *testing.T) {
	p := newTestProcessor(t)
	require.NoError(t, p.ReadRawAirdropData(strings.NewReader(rawSheet)))
	require.NoError(t, p.MergeRegularDistribution(strings.NewReader(regularSheet)))

	records, err := p.Eligibility()
	require.NoError(t, err)
	require.Len(t, records, 3)

	checksum := common.HexToAddress(addr1).Hex()
	criteria, ok := records[0][checksum]
	require.True(t, ok)
	assert.True(t, criteria["community"]["community-discord"])
	assert.False(t, criteria["community"]["community-forum"])
	assert.True(t, criteria["staking"]["staking-early"])
	assert.True(t, criteria["regular-distribution"]["regular-distribution-week-2"])
}

func TestParseTokenAmount(t *testing.T) {
	testCases := []struct {
		in      string
		want    *big.Rat
		wantErr bool
	}{
		{"", new(big.Rat), false},
		{" 12.5 ", big.NewRat(25, 2), false},
		{"1e3", big.NewRat(1000, 1), false},
		{"0", new(big.Rat), false},
		{"1/3", nil, true},
		{"-1", nil, true},
		{"abc", nil, true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseTokenAmount(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 0, tc.want.Cmp(got))
		})
	}
}

func TestToBaseUnits(t *testing.T) {
	n, err := ToBaseUnits(big.NewRat(3, 2), 18)
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", n.String())

	n, err = ToBaseUnits(big.NewRat(7, 1), 0)
	require.NoError(t, err)
	assert.Equal(t, "7", n.String())

	_, err = ToBaseUnits(big.NewRat(1, 3), 18)
	require.Error(t, err)
}

func TestChecksumAddress(t *testing.T) {
	got, err := ChecksumAddress(strings.ToLower("0xAbCdEf0123456789aBcDeF0123456789ABCDEF01"))
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xabcdef0123456789abcdef0123456789abcdef01").Hex(), got)

	_, err = ChecksumAddress("0x12")
	require.Error(t, err)
}
