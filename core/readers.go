package core

import (
	"github.com/google/logger"
	"github.com/niclabs/cardmw/criptoki"
	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/device/virtual"
	"github.com/niclabs/cardmw/storage"
	"github.com/pkg/errors"
)

const eventQueue = 16

// Environment holds the readers of a configuration with their virtual
// cards and the key directory backing them.
type Environment struct {
	Readers   device.StaticReaders
	Events    *virtual.Events
	Cards     map[string]*virtual.Card
	Directory storage.KeyDirectory
}

// NewEnvironment creates the readers of conf. Cards get the keys saved
// for their token in the key directory, if one is configured.
func NewEnvironment(conf *Config) (*Environment, error) {
	dir, err := NewDirectory(conf.Storage.Type)
	if err != nil {
		return nil, err
	}
	env := &Environment{
		Events:    virtual.NewEvents(eventQueue),
		Cards:     make(map[string]*virtual.Card),
		Directory: dir,
	}
	for _, rc := range conf.Readers {
		reader := virtual.NewReader(rc.Name, env.Events)
		env.Readers = append(env.Readers, reader)
		if rc.Token == "" {
			continue
		}
		if _, ok := env.Cards[rc.Token]; ok {
			env.Close()
			return nil, errors.Errorf("token %q is in more than one reader", rc.Token)
		}
		card := virtual.New(rc.Token, []byte(rc.UserPIN), []byte(rc.SOPIN))
		if dir != nil {
			if _, err := storage.LoadCard(dir, rc.Token, card); err != nil {
				env.Close()
				return nil, err
			}
		}
		reader.Insert(card)
		env.Cards[rc.Token] = card
	}
	logger.Infof("%d readers configured, %d with a card", len(env.Readers), len(env.Cards))
	if dir != nil {
		orphans, err := env.Orphans()
		if err != nil {
			env.Close()
			return nil, err
		}
		for _, token := range orphans {
			logger.Warningf("token %q has saved keys but no reader", token)
		}
	}
	return env, nil
}

// Orphans returns the tokens of the key directory that no reader carries.
func (env *Environment) Orphans() ([]string, error) {
	if env.Directory == nil {
		return nil, nil
	}
	tokens, err := env.Directory.Tokens()
	if err != nil {
		return nil, err
	}
	var orphans []string
	for _, token := range tokens {
		if _, ok := env.Cards[token]; !ok {
			orphans = append(orphans, token)
		}
	}
	return orphans, nil
}

// Module returns a criptoki module over the readers of env.
func (env *Environment) Module(conf CriptokiConfig, opts ...criptoki.Option) (*criptoki.Module, error) {
	return criptoki.New(conf.Module(), env.Readers, env.Events, opts...)
}

// Save writes the keys of every card to the key directory.
func (env *Environment) Save() error {
	if env.Directory == nil {
		return nil
	}
	for token, card := range env.Cards {
		if err := storage.SaveCard(env.Directory, token, card); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the key directory.
func (env *Environment) Close() error {
	if env.Directory == nil {
		return nil
	}
	return env.Directory.Close()
}
