package tornago

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListParserSplitsOnComma(t *testing.T) {
	t.Run("should split and join on comma", func(t *testing.T) {
		p := listParser{}
		v, err := p.Parse("0.0.0.0/0,::/0")
		require.NoError(t, err)
		require.Equal(t, []string{"0.0.0.0/0", "::/0"}, v)

		raw, err := p.Unparse(v)
		require.NoError(t, err)
		require.Equal(t, "0.0.0.0/0,::/0", raw)
	})

	t.Run("should return an empty slice for an empty value", func(t *testing.T) {
		v, err := listParser{}.Parse("")
		require.NoError(t, err)
		require.Empty(t, v)
	})
}

func TestLineListParserSplitsOnNewline(t *testing.T) {
	t.Run("should split and join on newline, not comma", func(t *testing.T) {
		p := lineListParser{}
		raw := "accept 192.168.0.0/16,10.0.0.0/8:80\nreject *:*"
		v, err := p.Parse(raw)
		require.NoError(t, err)
		require.Equal(t, []string{
			"accept 192.168.0.0/16,10.0.0.0/8:80",
			"reject *:*",
		}, v)

		out, err := p.Unparse(v)
		require.NoError(t, err)
		require.Equal(t, raw, out)
	})

	t.Run("should return an empty slice for an empty value", func(t *testing.T) {
		v, err := lineListParser{}.Parse("")
		require.NoError(t, err)
		require.Empty(t, v)
	})
}

func TestParserTableUsesDistinctListParsers(t *testing.T) {
	t.Run("should route LineList to lineListParser and CommaList/RouterList to listParser", func(t *testing.T) {
		_, lineListIsLineParser := parserTable[tagLineList].(lineListParser)
		require.True(t, lineListIsLineParser)

		_, commaListIsListParser := parserTable[tagCommaList].(listParser)
		require.True(t, commaListIsListParser)

		_, routerListIsListParser := parserTable[tagRouterList].(listParser)
		require.True(t, routerListIsListParser)
	})
}

func TestJoinConfValues(t *testing.T) {
	t.Run("should join LineList values on newline", func(t *testing.T) {
		require.Equal(t, "a\nb", joinConfValues(tagLineList, []string{"a", "b"}))
	})

	t.Run("should join CommaList/RouterList values on comma", func(t *testing.T) {
		require.Equal(t, "a,b", joinConfValues(tagCommaList, []string{"a", "b"}))
		require.Equal(t, "a,b", joinConfValues(tagRouterList, []string{"a", "b"}))
	})

	t.Run("should take only the first value for scalar tags", func(t *testing.T) {
		require.Equal(t, "1", joinConfValues(tagInt, []string{"1", "2"}))
	})

	t.Run("should return an empty string for no values", func(t *testing.T) {
		require.Equal(t, "", joinConfValues(tagString, nil))
	})
}
