package topicminer

import (
	"strings"

	"github.com/abadojack/whatlanggo"
)

// Stopwords are stored deaccented and lowercase, the form tokens take.
var frenchStopwords = wordSet(`
a afin ah ai aie aient aies ainsi ait allaient allo allons alors apres as assez au aucun aucune
aujourd aupres auquel aura aurai auraient aurais aurait auras aurez auriez aurions aurons auront
aussi autre autres aux auxquelles auxquels avaient avais avait avant avec avez aviez avions avons
avoir ayant ayez ayons bon bonjour bonne car ce ceci cela celle celles celui cependant certain
certaine certaines certains ces cet cette ceux chacun chacune chaque chez ci combien comme comment
compris d da dans de debout dedans dehors dela depuis des desormais desquelles desquels dessous
dessus deux devant devoir doit doivent donc dont du duquel durant elle elles en encore enfin entre
envers es est et etaient etais etait etant etc ete etre eu eue eues euh eux eurent eus eusse
eussent eusses eussiez eussions eut faire fais faisait faisant fait faite faites fois font hors ici
il ils j je jusqu jusque l la laquelle le les lesquelles lesquels leur leurs lui m ma maintenant
mais malgre me meme memes merci mes mien mienne miennes miens moi moins mon moyennant n ne ni non
nos notre nous nouveau nouveaux nul nulle on ont ou par parce parfois parmi pas pendant personne
peu peut peuvent peux plus plutot pour pourquoi prealable pres puis qu quand quel quelle quelles
quels qui quoi quoique re rien s sa sans se selon ses si sien sienne siennes siens soi soient sois
soit sommes son sont soyez soyons suis sur t ta tandis tel telle telles tels tes toi ton tous tout
toute toutes tres tu un une va vers via voici voila vos votre vous vu y zut cordialement
`)

var englishStopwords = wordSet(`
a about above after again against all am an and any are as at be because been before being below
between both but by can could did do does doing down during each few for from further had has
have having he her here hers herself him himself his how i if in into is it its itself just me
more most my myself no nor not now of off on once only or other our ours ourselves out over own
same she should so some such than that the their theirs them themselves then there these they
this those through to too under until up very was we were what when where which while who whom
why will with would you your yours yourself yourselves hello thanks thank regards dear best also
get got one two let know see
`)

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}

var detectOptions = whatlanggo.Options{
	Whitelist: map[whatlanggo.Lang]bool{whatlanggo.Fra: true, whatlanggo.Eng: true},
}

// Language returns the language of text among French and English. French
// is the default, including for text with no detectable script.
func Language(text string) whatlanggo.Lang {
	if whatlanggo.DetectWithOptions(text, detectOptions).Lang == whatlanggo.Eng {
		return whatlanggo.Eng
	}
	return whatlanggo.Fra
}

// Stopwords returns the stopword list of lang.
func Stopwords(lang whatlanggo.Lang) map[string]bool {
	if lang == whatlanggo.Eng {
		return englishStopwords
	}
	return frenchStopwords
}
