package item

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownGroup is returned for a photo group that is not in the Groups table
var ErrUnknownGroup = errors.New("unknown photo group")

// GroupName names a photo category of a work record
type GroupName string

// Group maps a photo category to the server column holding its photos
type Group struct {
	Name   GroupName
	Column string
}

func photos(name string) Group {
	return Group{Name: GroupName(name), Column: "fotos_" + name}
}

func document(name string) Group {
	return Group{Name: GroupName(name), Column: name}
}

// Groups is the table of photo categories used in the field, in payload order
var Groups = []Group{
	photos("antes"),
	photos("durante"),
	photos("depois"),
	photos("abertura"),
	photos("fechamento"),

	photos("ditais_abertura"),
	photos("ditais_impedir"),
	photos("ditais_testar"),
	photos("ditais_aterrar"),
	photos("ditais_sinalizar"),

	photos("aterramento_vala_aberta"),
	photos("aterramento_hastes"),
	photos("aterramento_vala_fechada"),
	photos("aterramento_medicao"),

	photos("transformador_laudo"),
	photos("transformador_componente_instalado"),
	photos("transformador_tombamento_instalado"),
	photos("transformador_tape"),
	photos("transformador_placa_instalado"),
	photos("transformador_instalado"),
	photos("transformador_antes_retirar"),
	photos("transformador_tombamento_retirado"),
	photos("transformador_placa_retirado"),
	photos("transformador_conexoes_primarias_instalado"),
	photos("transformador_conexoes_secundarias_instalado"),
	photos("transformador_conexoes_primarias_retirado"),
	photos("transformador_conexoes_secundarias_retirado"),

	photos("medidor_padrao"),
	photos("medidor_leitura"),
	photos("medidor_selo_born"),
	photos("medidor_selo_caixa"),
	photos("medidor_identificador_fase"),

	photos("checklist_croqui"),
	photos("checklist_panoramica_inicial"),
	photos("checklist_chede"),
	photos("checklist_aterramento_cerca"),
	photos("checklist_padrao_geral"),
	photos("checklist_padrao_interno"),
	photos("checklist_panoramica_final"),
	photos("checklist_postes"),
	photos("checklist_seccionamentos"),
	photos("checklist_medicao_termometro"),
	photos("checklist_hastes_aplicadas"),

	document("doc_cadastro_medidor"),
	document("doc_laudo_transformador"),
	document("doc_laudo_regulador"),
	document("doc_laudo_religador"),
	document("doc_apr"),
	document("doc_fvbt"),
	document("doc_termo_desistencia_lpt"),
	document("doc_autorizacao_passagem"),
	document("doc_materiais_previsto"),
	document("doc_materiais_realizado"),

	photos("altimetria_lado_fonte"),
	photos("altimetria_medicao_fonte"),
	photos("altimetria_lado_carga"),
	photos("altimetria_medicao_carga"),

	photos("vazamento_evidencia"),
	photos("vazamento_equipamentos_limpeza"),
	photos("vazamento_tombamento_retirado"),
	photos("vazamento_placa_retirado"),
	photos("vazamento_tombamento_instalado"),
	photos("vazamento_placa_instalado"),
	photos("vazamento_instalacao"),
}

var groupIndex = func() map[GroupName]int {
	idx := make(map[GroupName]int, len(Groups))
	for i, g := range Groups {
		idx[g.Name] = i
	}
	return idx
}()

// LookupGroup returns the group registered under name
func LookupGroup(name GroupName) (Group, bool) {
	i, ok := groupIndex[name]
	if !ok {
		return Group{}, false
	}
	return Groups[i], true
}

// ValidateGroups checks that every key of groups is a registered group name
func ValidateGroups(groups map[GroupName][]string) error {
	for name := range groups {
		if _, ok := groupIndex[name]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownGroup, name)
		}
	}
	return nil
}

// SortedGroupNames returns the keys of groups in table order
func SortedGroupNames[T any](groups map[GroupName]T) []GroupName {
	names := make([]GroupName, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.SliceStable(names, func(i, j int) bool {
		return groupIndex[names[i]] < groupIndex[names[j]]
	})
	return names
}
